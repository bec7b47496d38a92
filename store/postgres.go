package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var (
	_ Store    = (*PostgresStore)(nil)
	_ Searcher = (*PostgresStore)(nil)
)

// PostgresStore persists documents and chunks in Postgres and delegates
// similarity search to pgvector.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateDocument(ctx context.Context, filename string) (Document, error) {
	doc := Document{
		ID:       uuid.New().String(),
		Filename: filename,
		Status:   StatusProcessing,
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO qa_documents (id, filename, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`, doc.ID, doc.Filename, string(doc.Status)); err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	return doc, nil
}

func (s *PostgresStore) RecordExtraction(ctx context.Context, documentID string, pageCount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE qa_documents
		SET page_count = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, documentID, pageCount)
	if err != nil {
		return fmt.Errorf("record extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) StoreChunks(ctx context.Context, documentID string, chunks []Chunk) (err error) {
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	if err = tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM qa_documents WHERE id = $1 FOR UPDATE)", documentID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	for _, chunk := range chunks {
		if _, err = tx.Exec(ctx, `
			INSERT INTO qa_chunks (id, document_id, page, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, chunk.ID, documentID, chunk.Page, chunk.Index, chunk.Text, pgvector.NewVector(chunk.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
	}

	if _, err = tx.Exec(ctx, `
		UPDATE qa_documents
		SET chunk_count = $2,
		    status = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, documentID, len(chunks), string(StatusProcessed)); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, documentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE qa_documents
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, documentID, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, filename, status, COALESCE(page_count, 0), COALESCE(chunk_count, 0)
		FROM qa_documents
		WHERE id = $1
	`, documentID).Scan(&doc.ID, &doc.Filename, &status, &doc.PageCount, &doc.ChunkCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("query document: %w", err)
	}
	doc.Status = Status(status)
	return doc, nil
}

func (s *PostgresStore) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, page, chunk_index, content
		FROM qa_chunks
		WHERE document_id = $1
		ORDER BY page, chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]Chunk, 0)
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Page, &chunk.Index, &chunk.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	// Chunks go with the document via ON DELETE CASCADE; unknown ids delete
	// zero rows.
	if _, err := s.pool.Exec(ctx, "DELETE FROM qa_documents WHERE id = $1", documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, documentID string, query []float32, k int) ([]ScoredChunk, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, page, chunk_index, content,
		       1 - (embedding <=> $2::vector) AS score
		FROM qa_chunks
		WHERE document_id = $1
		ORDER BY embedding <=> $2::vector, page, chunk_index
		LIMIT $3
	`, documentID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, 0, k)
	for rows.Next() {
		var item ScoredChunk
		if err := rows.Scan(&item.Chunk.ID, &item.Chunk.DocumentID, &item.Chunk.Page,
			&item.Chunk.Index, &item.Chunk.Text, &item.Score); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		results = append(results, item)
	}
	return results, rows.Err()
}
