package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	_ Store    = (*MemoryStore)(nil)
	_ Searcher = (*MemoryStore)(nil)
)

// MemoryStore keeps documents and chunks in process memory and answers
// similarity queries by brute-force cosine over the target document's chunks.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
	chunks    map[string][]Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
		chunks:    make(map[string][]Chunk),
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, filename string) (Document, error) {
	doc := Document{
		ID:       uuid.New().String(),
		Filename: filename,
		Status:   StatusProcessing,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	return doc, nil
}

func (s *MemoryStore) RecordExtraction(_ context.Context, documentID string, pageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	doc.PageCount = pageCount
	s.documents[documentID] = doc
	return nil
}

func (s *MemoryStore) StoreChunks(_ context.Context, documentID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}

	stored := make([]Chunk, len(chunks))
	copy(stored, chunks)

	s.chunks[documentID] = stored
	doc.ChunkCount = len(stored)
	doc.Status = StatusProcessed
	s.documents[documentID] = doc
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	doc.Status = StatusFailed
	s.documents[documentID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, documentID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) GetChunks(_ context.Context, documentID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.documents[documentID]; !ok {
		return nil, ErrNotFound
	}

	chunks := s.chunks[documentID]
	result := make([]Chunk, len(chunks))
	copy(result, chunks)
	return result, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, documentID)
	delete(s.chunks, documentID)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, documentID string, query []float32, k int) ([]ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.documents[documentID]; !ok {
		return nil, ErrNotFound
	}

	chunks := s.chunks[documentID]
	if len(chunks) == 0 || k <= 0 {
		return nil, nil
	}

	scored := make([]ScoredChunk, len(chunks))
	for i, chunk := range chunks {
		scored[i] = ScoredChunk{Chunk: chunk, Score: cosine(query, chunk.Embedding)}
	}

	// Chunks are held in reading order, so a stable sort breaks score ties
	// in favour of the earlier chunk.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
