// Package store owns document and chunk records: the system of record for
// ingestion status and chunk contents, plus similarity search over stored
// chunk vectors.
package store

import "context"

type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

type Document struct {
	ID         string
	Filename   string
	Status     Status
	PageCount  int
	ChunkCount int
}

// Chunk is a bounded passage of a document's text, the unit of retrieval.
// Chunks are created in batch during ingestion and immutable afterwards.
type Chunk struct {
	ID         string
	DocumentID string
	Page       int
	Index      int
	Text       string
	Embedding  []float32
}

// ScoredChunk pairs a chunk with its similarity to a query vector.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Store is the system of record for documents and their chunks. All mutating
// operations are atomic per document id; readers observe either the
// pre-ingestion state or the fully stored chunk set, never a partial one.
type Store interface {
	// CreateDocument mints a fresh document in the processing state.
	CreateDocument(ctx context.Context, filename string) (Document, error)
	// RecordExtraction sets the extracted page count.
	RecordExtraction(ctx context.Context, documentID string, pageCount int) error
	// StoreChunks persists the chunk set as one batch, sets the chunk count
	// and transitions the document to processed. An empty chunk set is
	// rejected with ErrNoChunks.
	StoreChunks(ctx context.Context, documentID string, chunks []Chunk) error
	// MarkFailed transitions the document to the terminal failed state.
	// Idempotent.
	MarkFailed(ctx context.Context, documentID string) error
	GetDocument(ctx context.Context, documentID string) (Document, error)
	GetChunks(ctx context.Context, documentID string) ([]Chunk, error)
	// DeleteDocument removes a document and its chunks. Unknown ids are a
	// no-op.
	DeleteDocument(ctx context.Context, documentID string) error
}

// Searcher returns the top-k stored chunks of a single document by cosine
// similarity to the query vector, most similar first. Score ties break by
// ascending chunk order, so results are deterministic for identical inputs.
type Searcher interface {
	Search(ctx context.Context, documentID string, query []float32, k int) ([]ScoredChunk, error)
}
