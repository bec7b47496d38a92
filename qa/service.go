// Package qa sequences the ingestion pipeline (extract, chunk, embed, store)
// and the chat pipeline (lookup, embed, retrieve, generate, cite).
package qa

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/pdf-qa/chunker"
	"github.com/fabfab/pdf-qa/embeddings"
	"github.com/fabfab/pdf-qa/extract"
	"github.com/fabfab/pdf-qa/llm"
	"github.com/fabfab/pdf-qa/store"
)

const (
	defaultTopK           = 4
	defaultEmbedBatchSize = 16
	defaultEmbedWorkers   = 4
)

type Config struct {
	TopK           int
	EmbedBatchSize int
	EmbedWorkers   int
}

type Service struct {
	store     store.Store
	index     store.Searcher
	extractor extract.Extractor
	embedder  embeddings.Embedder
	llm       llm.Client
	splitter  *chunker.Splitter
	logger    *log.Logger

	topK      int
	batchSize int
	workers   int
}

func NewService(
	st store.Store,
	index store.Searcher,
	extractor extract.Extractor,
	embedder embeddings.Embedder,
	llmClient llm.Client,
	splitter *chunker.Splitter,
	logger *log.Logger,
	cfg Config,
) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if splitter == nil {
		splitter = chunker.New()
	}

	svc := &Service{
		store:     st,
		index:     index,
		extractor: extractor,
		embedder:  embedder,
		llm:       llmClient,
		splitter:  splitter,
		logger:    logger,
		topK:      cfg.TopK,
		batchSize: cfg.EmbedBatchSize,
		workers:   cfg.EmbedWorkers,
	}
	if svc.topK <= 0 {
		svc.topK = defaultTopK
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultEmbedBatchSize
	}
	if svc.workers <= 0 {
		svc.workers = defaultEmbedWorkers
	}
	return svc
}

// Ingest runs the full pipeline over raw document bytes. The document ends in
// the processed state with at least one stored chunk, or in the terminal
// failed state with ErrUnprocessableDocument returned.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (IngestResult, error) {
	if s.extractor == nil || s.embedder == nil {
		return IngestResult{}, fmt.Errorf("ingestion capabilities are not configured")
	}

	doc, err := s.store.CreateDocument(ctx, filename)
	if err != nil {
		return IngestResult{}, fmt.Errorf("create document: %w", err)
	}

	pages, err := s.extractor.Extract(ctx, data)
	if err != nil {
		s.fail(ctx, doc.ID)
		return IngestResult{}, fmt.Errorf("%w: extract text: %v", ErrUnprocessableDocument, err)
	}

	if err := s.store.RecordExtraction(ctx, doc.ID, len(pages)); err != nil {
		s.fail(ctx, doc.ID)
		return IngestResult{}, fmt.Errorf("record extraction: %w", err)
	}

	passages := s.splitter.Split(pages)
	if len(passages) == 0 {
		s.fail(ctx, doc.ID)
		return IngestResult{}, fmt.Errorf("%w: no extractable text", ErrUnprocessableDocument)
	}

	texts := make([]string, len(passages))
	for i, passage := range passages {
		texts[i] = passage.Text
	}

	vectors, err := s.embedTexts(ctx, texts)
	if err != nil {
		s.fail(ctx, doc.ID)
		return IngestResult{}, fmt.Errorf("%w: embed chunks: %v", ErrUnprocessableDocument, err)
	}

	chunks := make([]store.Chunk, len(passages))
	for i, passage := range passages {
		chunks[i] = store.Chunk{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			Page:       passage.Page,
			Index:      i,
			Text:       passage.Text,
			Embedding:  vectors[i],
		}
	}

	if err := s.store.StoreChunks(ctx, doc.ID, chunks); err != nil {
		// Whatever went wrong, the document must not stay in processing
		// forever; failed is the terminal state for every ingestion error.
		s.fail(ctx, doc.ID)
		if errors.Is(err, store.ErrNoChunks) {
			return IngestResult{}, fmt.Errorf("%w: no extractable text", ErrUnprocessableDocument)
		}
		return IngestResult{}, fmt.Errorf("store chunks: %w", err)
	}

	s.logger.Printf("ingested %s as %s (%d pages, %d chunks)", filename, doc.ID, len(pages), len(chunks))

	return IngestResult{
		DocumentID: doc.ID,
		PageCount:  len(pages),
		Status:     store.StatusProcessed,
	}, nil
}

func (s *Service) fail(ctx context.Context, documentID string) {
	if err := s.store.MarkFailed(ctx, documentID); err != nil {
		s.logger.Printf("mark document %s failed: %v", documentID, err)
	}
}

// embedTexts embeds in bounded concurrent batches. Each batch writes into its
// own disjoint slice of the result, so the whole chunk set is assembled before
// anything is stored.
func (s *Service) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for start := 0; start < len(texts); start += s.batchSize {
		start := start
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		g.Go(func() error {
			batch, err := s.embedder.Embed(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Metadata reports a document's ingestion state. Failed documents stay
// visible here so callers can see the terminal state instead of an id that
// hangs in processing forever.
func (s *Service) Metadata(ctx context.Context, documentID string) (store.Document, error) {
	if strings.TrimSpace(documentID) == "" {
		return store.Document{}, fmt.Errorf("%w: documentId is required", ErrInvalidRequest)
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, fmt.Errorf("lookup document: %w", err)
	}
	return doc, nil
}

// Chat answers a question against one processed document. Input validation
// precedes the document lookup, so a blank question is always the
// invalid-request kind even when the document is unknown.
func (s *Service) Chat(ctx context.Context, documentID, question string) (ChatResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return ChatResponse{}, fmt.Errorf("%w: question must not be blank", ErrInvalidRequest)
	}
	if strings.TrimSpace(documentID) == "" {
		return ChatResponse{}, fmt.Errorf("%w: documentId is required", ErrInvalidRequest)
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("lookup document: %w", err)
	}
	if doc.Status != store.StatusProcessed {
		// An unready document cannot ground an answer, so the caller sees
		// the same thing as for an unknown id.
		return ChatResponse{}, fmt.Errorf("document %s is %s: %w", documentID, doc.Status, store.ErrNotFound)
	}

	queryVectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("embed question: %w", err)
	}
	if len(queryVectors) == 0 {
		return ChatResponse{}, fmt.Errorf("embedder returned no vectors")
	}

	results, err := s.index.Search(ctx, documentID, queryVectors[0], s.topK)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("search chunks: %w", err)
	}
	if len(results) == 0 {
		// Processed documents always have chunks; an empty result set means
		// the index and the store disagree.
		return ChatResponse{}, fmt.Errorf("no chunks indexed for processed document %s", documentID)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt()},
		{Role: llm.RoleUser, Content: formatUserPrompt(question, results)},
	}

	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("generate answer: %w", err)
	}

	sources := make([]Source, len(results))
	for i, result := range results {
		sources[i] = Source{
			Page:  result.Chunk.Page,
			Text:  result.Chunk.Text,
			Score: result.Score,
		}
	}

	return ChatResponse{Answer: strings.TrimSpace(answer), Sources: sources}, nil
}

func systemPrompt() string {
	return "You are a document question-answering assistant. Answer using only the excerpts supplied in the user message; do not draw on outside knowledge. Quote the document's own wording where possible and mention the page numbers you relied on. If the excerpts do not contain the answer, say that the document does not cover it."
}

func formatUserPrompt(question string, results []store.ScoredChunk) string {
	var sb strings.Builder
	sb.WriteString("Document excerpts:\n\n")
	for i, result := range results {
		sb.WriteString(fmt.Sprintf("[Excerpt %d, page %d]\n", i+1, result.Chunk.Page))
		sb.WriteString(result.Chunk.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
