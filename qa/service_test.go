package qa_test

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/pdf-qa/chunker"
	"github.com/fabfab/pdf-qa/embeddings"
	"github.com/fabfab/pdf-qa/extract"
	"github.com/fabfab/pdf-qa/llm"
	"github.com/fabfab/pdf-qa/qa"
	"github.com/fabfab/pdf-qa/store"
)

type stubExtractor struct {
	pages []extract.Page
	err   error
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte) ([]extract.Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pages, nil
}

var _ extract.Extractor = (*stubExtractor)(nil)

// wordEmbedder hashes words into a small fixed-dimension bag-of-words vector,
// so texts sharing vocabulary score as similar under cosine. Deterministic
// and offline.
type wordEmbedder struct {
	err error
}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = embedWords(text)
	}
	return vectors, nil
}

var _ embeddings.Embedder = (*wordEmbedder)(nil)

func embedWords(text string) []float32 {
	const dim = 64
	vec := make([]float32, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// echoLLM answers with the supplied excerpts, which keeps the answer's
// vocabulary correlated with the retrieved content.
type echoLLM struct {
	err error
}

func (c *echoLLM) Generate(_ context.Context, messages []llm.Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	if len(messages) == 0 {
		return "", errors.New("no messages provided")
	}
	return "According to the document: " + messages[len(messages)-1].Content, nil
}

var _ llm.Client = (*echoLLM)(nil)

func handbookPages() []extract.Page {
	return []extract.Page{
		{Number: 1, Text: "Employee Handbook. Welcome to the company. This handbook covers policies and benefits."},
		{Number: 2, Text: "Vacation Policy. Full time employees receive 15 days PTO per year. Vacation leave accrues monthly and unused days roll over."},
		{Number: 3, Text: "Expense Reimbursement. To submit expenses, attach each receipt to a reimbursement report within thirty days of purchase."},
	}
}

func newTestService(ex extract.Extractor, emb embeddings.Embedder, gen llm.Client) (*qa.Service, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	svc := qa.NewService(
		mem,
		mem,
		ex,
		emb,
		gen,
		chunker.New(chunker.WithChunkSize(200), chunker.WithOverlap(40)),
		log.New(io.Discard, "", 0),
		qa.Config{TopK: 2},
	)
	return svc, mem
}

func TestIngestProcessesDocument(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(&stubExtractor{pages: handbookPages()}, &wordEmbedder{}, &echoLLM{})

	result, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.DocumentID)
	assert.Equal(t, 3, result.PageCount)
	assert.Equal(t, store.StatusProcessed, result.Status)

	doc, err := mem.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Greater(t, doc.ChunkCount, 0)

	chunks, err := mem.GetChunks(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Len(t, chunks, doc.ChunkCount)
}

// recordingStore captures the id minted during ingestion so failure-path
// tests can inspect the document afterwards.
type recordingStore struct {
	*store.MemoryStore
	lastID string
}

func (r *recordingStore) CreateDocument(ctx context.Context, filename string) (store.Document, error) {
	doc, err := r.MemoryStore.CreateDocument(ctx, filename)
	r.lastID = doc.ID
	return doc, err
}

func TestIngestExtractionFailure(t *testing.T) {
	ctx := context.Background()
	rec := &recordingStore{MemoryStore: store.NewMemoryStore()}
	svc := qa.NewService(rec, rec.MemoryStore, &stubExtractor{err: errors.New("corrupt bytes")},
		&wordEmbedder{}, &echoLLM{}, chunker.New(), log.New(io.Discard, "", 0), qa.Config{})

	_, err := svc.Ingest(ctx, "broken.pdf", []byte("not a pdf"))
	require.ErrorIs(t, err, qa.ErrUnprocessableDocument)

	// The document ends in the terminal failed state, not hanging in
	// processing.
	doc, err := rec.GetDocument(ctx, rec.lastID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, doc.Status)
}

func TestIngestNoExtractableText(t *testing.T) {
	ctx := context.Background()
	pages := []extract.Page{{Number: 1, Text: "  "}, {Number: 2, Text: ""}}
	svc, _ := newTestService(&stubExtractor{pages: pages}, &wordEmbedder{}, &echoLLM{})

	_, err := svc.Ingest(ctx, "scanned.pdf", []byte("%PDF-"))
	require.ErrorIs(t, err, qa.ErrUnprocessableDocument)
	assert.Contains(t, err.Error(), "no extractable text")
}

func TestIngestEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubExtractor{pages: handbookPages()}, &wordEmbedder{err: errors.New("model offline")}, &echoLLM{})

	_, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.ErrorIs(t, err, qa.ErrUnprocessableDocument)
}

// brokenChunkStore accepts the document but refuses the chunk batch, the
// shape of a connection dropped mid-ingestion.
type brokenChunkStore struct {
	*recordingStore
}

func (b *brokenChunkStore) StoreChunks(_ context.Context, _ string, _ []store.Chunk) error {
	return errors.New("connection reset by peer")
}

// errExtractStore fails the page-count write instead.
type errExtractStore struct {
	*recordingStore
}

func (e *errExtractStore) RecordExtraction(_ context.Context, _ string, _ int) error {
	return errors.New("connection reset by peer")
}

func TestIngestStoreChunksFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	broken := &brokenChunkStore{recordingStore: &recordingStore{MemoryStore: store.NewMemoryStore()}}
	svc := qa.NewService(broken, broken.MemoryStore, &stubExtractor{pages: handbookPages()},
		&wordEmbedder{}, &echoLLM{}, chunker.New(), log.New(io.Discard, "", 0), qa.Config{})

	_, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.Error(t, err)

	doc, err := broken.GetDocument(ctx, broken.lastID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, doc.Status, "a failed chunk write must not leave the document in processing")
}

func TestIngestRecordExtractionFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	broken := &errExtractStore{recordingStore: &recordingStore{MemoryStore: store.NewMemoryStore()}}
	svc := qa.NewService(broken, broken.MemoryStore, &stubExtractor{pages: handbookPages()},
		&wordEmbedder{}, &echoLLM{}, chunker.New(), log.New(io.Discard, "", 0), qa.Config{})

	_, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.Error(t, err)

	doc, err := broken.GetDocument(ctx, broken.lastID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, doc.Status)
}

func TestIngestEmptyPageContributesNoChunks(t *testing.T) {
	ctx := context.Background()
	pages := []extract.Page{
		{Number: 1, Text: ""},
		{Number: 2, Text: "Only this page has text worth indexing."},
	}
	svc, mem := newTestService(&stubExtractor{pages: pages}, &wordEmbedder{}, &echoLLM{})

	result, err := svc.Ingest(ctx, "mixed.pdf", []byte("%PDF-"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.PageCount)

	chunks, err := mem.GetChunks(ctx, result.DocumentID)
	require.NoError(t, err)
	for _, chunk := range chunks {
		assert.Equal(t, 2, chunk.Page)
	}
}

func TestChatBlankQuestion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubExtractor{pages: handbookPages()}, &wordEmbedder{}, &echoLLM{})

	result, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.NoError(t, err)

	for _, question := range []string{"", "   ", "\n\t"} {
		_, err := svc.Chat(ctx, result.DocumentID, question)
		assert.ErrorIs(t, err, qa.ErrInvalidRequest)
	}
}

func TestChatBlankQuestionPrecedesLookup(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubExtractor{}, &wordEmbedder{}, &echoLLM{})

	_, err := svc.Chat(ctx, "never-created", "")
	assert.ErrorIs(t, err, qa.ErrInvalidRequest)
}

func TestChatUnknownDocument(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubExtractor{}, &wordEmbedder{}, &echoLLM{})

	_, err := svc.Chat(ctx, "never-created", "What is the policy?")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChatUnreadyDocument(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(&stubExtractor{}, &wordEmbedder{}, &echoLLM{})

	processing, err := mem.CreateDocument(ctx, "pending.pdf")
	require.NoError(t, err)
	_, err = svc.Chat(ctx, processing.ID, "Anything?")
	assert.ErrorIs(t, err, store.ErrNotFound)

	failed, err := mem.CreateDocument(ctx, "broken.pdf")
	require.NoError(t, err)
	require.NoError(t, mem.MarkFailed(ctx, failed.ID))
	_, err = svc.Chat(ctx, failed.ID, "Anything?")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChatVacationPolicy(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubExtractor{pages: handbookPages()}, &wordEmbedder{}, &echoLLM{})

	result, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.NoError(t, err)

	resp, err := svc.Chat(ctx, result.DocumentID, "What is the vacation policy?")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Sources)

	answer := strings.ToLower(resp.Answer)
	assert.True(t,
		strings.Contains(answer, "vacation") || strings.Contains(answer, "pto") ||
			strings.Contains(answer, "days") || strings.Contains(answer, "leave"),
		"answer should be grounded in the vacation section: %q", resp.Answer)

	for _, source := range resp.Sources {
		assert.GreaterOrEqual(t, source.Page, 1)
		assert.LessOrEqual(t, source.Page, result.PageCount)
		assert.NotEmpty(t, source.Text)
	}
}

func TestChatExpenses(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubExtractor{pages: handbookPages()}, &wordEmbedder{}, &echoLLM{})

	result, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.NoError(t, err)

	resp, err := svc.Chat(ctx, result.DocumentID, "How do I submit expenses?")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Sources)

	answer := strings.ToLower(resp.Answer)
	assert.True(t,
		strings.Contains(answer, "expense") || strings.Contains(answer, "submit") ||
			strings.Contains(answer, "receipt") || strings.Contains(answer, "reimbursement"),
		"answer should be grounded in the expenses section: %q", resp.Answer)
}

func TestChatIsDeterministic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubExtractor{pages: handbookPages()}, &wordEmbedder{}, &echoLLM{})

	result, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.NoError(t, err)

	first, err := svc.Chat(ctx, result.DocumentID, "What is the vacation policy?")
	require.NoError(t, err)
	second, err := svc.Chat(ctx, result.DocumentID, "What is the vacation policy?")
	require.NoError(t, err)

	require.Len(t, second.Sources, len(first.Sources))
	for i := range first.Sources {
		assert.Equal(t, first.Sources[i].Page, second.Sources[i].Page)
		assert.Equal(t, first.Sources[i].Text, second.Sources[i].Text)
	}
}

func TestChatGenerationFailure(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubExtractor{pages: handbookPages()}, &wordEmbedder{}, &echoLLM{err: errors.New("model timeout")})

	result, err := svc.Ingest(ctx, "handbook.pdf", []byte("%PDF-"))
	require.NoError(t, err)

	_, err = svc.Chat(ctx, result.DocumentID, "What is the vacation policy?")
	require.Error(t, err)
	assert.NotErrorIs(t, err, qa.ErrInvalidRequest)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestMetadataReportsFailure(t *testing.T) {
	ctx := context.Background()
	rec := &recordingStore{MemoryStore: store.NewMemoryStore()}
	svc := qa.NewService(rec, rec.MemoryStore, &stubExtractor{err: errors.New("corrupt")},
		&wordEmbedder{}, &echoLLM{}, chunker.New(), log.New(io.Discard, "", 0), qa.Config{})

	_, err := svc.Ingest(ctx, "broken.pdf", []byte("junk"))
	require.ErrorIs(t, err, qa.ErrUnprocessableDocument)

	doc, err := svc.Metadata(ctx, rec.lastID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, doc.Status)
}

func TestMetadataUnknownDocument(t *testing.T) {
	svc, _ := newTestService(&stubExtractor{}, &wordEmbedder{}, &echoLLM{})
	_, err := svc.Metadata(context.Background(), "never-created")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
