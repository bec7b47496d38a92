package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fabfab/pdf-qa/api"
	"github.com/fabfab/pdf-qa/chunker"
	"github.com/fabfab/pdf-qa/config"
	"github.com/fabfab/pdf-qa/database"
	"github.com/fabfab/pdf-qa/embeddings"
	"github.com/fabfab/pdf-qa/extract"
	"github.com/fabfab/pdf-qa/llm"
	"github.com/fabfab/pdf-qa/qa"
	"github.com/fabfab/pdf-qa/store"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	docStore, searcher, cleanup, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("store setup: %v", err)
	}
	defer cleanup()

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	splitter := chunker.New(
		chunker.WithChunkSize(cfg.ChunkSize),
		chunker.WithOverlap(cfg.ChunkOverlap),
	)

	svc := qa.NewService(docStore, searcher, extract.NewPDFExtractor(), embedder, llmClient, splitter, logger, qa.Config{
		TopK:           cfg.TopK,
		EmbedBatchSize: cfg.EmbedBatchSize,
		EmbedWorkers:   cfg.EmbedWorkers,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.New(svc, logger, cfg.MaxUploadBytes),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s (store=%s, embeddings=%s/%s, llm=%s/%s)",
		cfg.ListenAddr, cfg.Store,
		cfg.Embeddings.Provider, cfg.Embeddings.Model,
		cfg.LLM.Provider, cfg.LLM.Model)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func newStore(ctx context.Context, cfg config.Config) (store.Store, store.Searcher, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := database.EnsureSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		pg := store.NewPostgresStore(pool)
		return pg, pg, pool.Close, nil
	case config.StoreMemory:
		mem := store.NewMemoryStore()
		return mem, mem, func() {}, nil
	default:
		return nil, nil, nil, errors.New("unknown store backend: " + cfg.Store)
	}
}
