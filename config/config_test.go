package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fabfab/pdf-qa/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 4, cfg.TopK)
	assert.Greater(t, cfg.MaxUploadBytes, int64(0))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("STORE_BACKEND", config.StorePostgres)
	t.Setenv("RETRIEVAL_TOP_K", "7")
	t.Setenv("CHUNK_SIZE", "not-a-number")

	cfg := config.Load()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, config.StorePostgres, cfg.Store)
	assert.Equal(t, 7, cfg.TopK)
	// Unparseable values fall back to the default.
	assert.Equal(t, 1000, cfg.ChunkSize)
}
