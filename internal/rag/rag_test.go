package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/embedding"
	"document-qa/internal/models"
)

// fakeModel records what it was asked and answers with a fixed text
type fakeModel struct {
	mu       sync.Mutex
	answer   string
	err      error
	block    bool
	calls    int
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	f.calls++
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// flakyIndex wraps a real index and injects failures
type flakyIndex struct {
	VectorIndex
	failUpsertAfter int // -1 disables
	deleteErr       error
	deleted         [][]string
}

func (f *flakyIndex) Upsert(ctx context.Context, records []models.Record) ([]string, error) {
	if f.failUpsertAfter < 0 || len(records) <= f.failUpsertAfter {
		return f.VectorIndex.Upsert(ctx, records)
	}
	written, err := f.VectorIndex.Upsert(ctx, records[:f.failUpsertAfter])
	if err != nil {
		return written, err
	}
	return written, &models.PartialUpsertError{Written: written, Err: errors.New("connection reset by peer")}
}

func (f *flakyIndex) Delete(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.VectorIndex.Delete(ctx, ids)
}

type failingEmbedder struct{ Embedder }

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, models.ErrEmbeddingFailed
}

type harness struct {
	rag    *RAG
	model  *fakeModel
	index  *flakyIndex
	chroma *chromemdb.VectorDBManager
	store  *db.MemoryStore
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	chroma, err := chromemdb.NewVectorDBManager(&config.VectorStoreConfig{InMemory: true, Collection: t.Name()})
	require.NoError(t, err)

	index := &flakyIndex{VectorIndex: chroma, failUpsertAfter: -1}
	store := db.NewMemoryStore()
	model := &fakeModel{answer: "  Go was announced in 2009.  \n"}
	provider := embedding.NewProvider("hash-v1", func(context.Context) (embeddings.Embedder, error) {
		return embedding.NewHashEmbedder(128), nil
	})

	return &harness{
		rag:    NewRAG(provider, index, store, NewGenerator(model, 0.1, 5000), opts),
		model:  model,
		index:  index,
		chroma: chroma,
		store:  store,
	}
}

func textOfLength(n int) string {
	const sentence = "The Go programming language was announced by Google in November 2009. "
	return strings.Repeat(sentence, n/len(sentence)+1)[:n]
}

func upload(name, text string) models.IngestRequest {
	return models.IngestRequest{Filename: name, MIMEType: "text/plain", Data: []byte(text)}
}

func TestIngest_EndToEnd(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	res, err := h.rag.Ingest(ctx, upload("go.txt", textOfLength(2500)))
	require.NoError(t, err)

	assert.Equal(t, 4, res.ChunkCount)
	assert.Len(t, res.IndexedIDs, 4)
	assert.Len(t, res.Document.ChunkIDs, 4)
	assert.Equal(t, res.IndexedIDs, res.Document.ChunkIDs)
	assert.Equal(t, models.SourceTXT, res.Document.SourceType)
	assert.Equal(t, int64(2500), res.Document.ByteSize)
	assert.Equal(t, 4, h.chroma.Count())

	stored, err := h.rag.GetDocument(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, "go.txt", stored.Name)
	assert.Len(t, stored.RawText, 2500)
}

func TestIngest_FailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name    string
		req     models.IngestRequest
		wantErr error
	}{
		{"unsupported", models.IngestRequest{Filename: "x.docx", MIMEType: "application/msword", Data: []byte("x")}, models.ErrUnsupportedFormat},
		{"empty text", upload("empty.txt", "   \n\t "), models.ErrEmptyDocument},
		{"bad encoding", upload("bin.txt", "\xff\xfe\xfd"), models.ErrEncoding},
		{"bad pdf", models.IngestRequest{Filename: "x.pdf", MIMEType: "application/pdf", Data: []byte("garbage")}, models.ErrExtractionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultOptions())
			_, err := h.rag.Ingest(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			docs, _ := h.rag.ListDocuments(context.Background())
			assert.Empty(t, docs)
			assert.Zero(t, h.chroma.Count())
		})
	}
}

func TestIngest_EmbeddingFailureSkipsIndex(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.rag.embedder = failingEmbedder{h.rag.embedder}

	_, err := h.rag.Ingest(context.Background(), upload("go.txt", textOfLength(1500)))
	assert.ErrorIs(t, err, models.ErrEmbeddingFailed)
	assert.Zero(t, h.chroma.Count())

	docs, _ := h.rag.ListDocuments(context.Background())
	assert.Empty(t, docs)
}

func TestIngest_PartialUpsert(t *testing.T) {
	for _, rollback := range []bool{false, true} {
		opts := DefaultOptions()
		opts.RollbackPartialUpserts = rollback
		h := newHarness(t, opts)
		h.index.failUpsertAfter = 2

		_, err := h.rag.Ingest(context.Background(), upload("go.txt", textOfLength(2500)))

		var pe *models.PartialUpsertError
		require.ErrorAs(t, err, &pe)
		assert.Len(t, pe.Written, 2)
		assert.Equal(t, "partial_upsert_failure", models.Reason(err))

		docs, _ := h.rag.ListDocuments(context.Background())
		assert.Empty(t, docs, "document must not be visible after a failed upsert")

		if rollback {
			require.Len(t, h.index.deleted, 1)
			assert.Equal(t, pe.Written, h.index.deleted[0])
			assert.Zero(t, h.chroma.Count())
		} else {
			assert.Empty(t, h.index.deleted)
			assert.Equal(t, 2, h.chroma.Count())
		}
	}
}

func TestQuery_EmptyIndexReturnsCannedAnswer(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	resp, err := h.rag.Query(context.Background(), models.QueryRequest{Question: "What is Go?"})
	require.NoError(t, err)

	assert.Equal(t, models.NoRelevantInformationAnswer, resp.Answer)
	assert.NotNil(t, resp.RelevantTexts)
	assert.Empty(t, resp.RelevantTexts)
	assert.Zero(t, resp.SourceCount)
	assert.Zero(t, h.model.calls)
}

func TestQuery_EmptyQuestion(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	_, err := h.rag.Query(context.Background(), models.QueryRequest{Question: "   "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestQuery_GroundsAnswerInContext(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	_, err := h.rag.Ingest(ctx, upload("go.txt", textOfLength(2500)))
	require.NoError(t, err)

	resp, err := h.rag.Query(ctx, models.QueryRequest{Question: "When was Go announced?"})
	require.NoError(t, err)

	assert.Equal(t, "Go was announced in 2009.", resp.Answer)
	assert.Len(t, resp.RelevantTexts, 3)
	assert.Equal(t, 4, resp.SourceCount)

	require.Equal(t, 1, h.model.calls)
	require.Len(t, h.model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, h.model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, h.model.messages[1].Role)

	prompt := h.model.messages[1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, strings.Join(resp.RelevantTexts, "\n\n"))
	assert.Contains(t, prompt, "Question: When was Go announced?")
	assert.Contains(t, prompt, "I don't know")
	assert.InDelta(t, 0.1, h.model.opts.Temperature, 1e-9)
	assert.Equal(t, 5000, h.model.opts.MaxTokens)
}

func TestQuery_GenerationFailures(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()
	_, err := h.rag.Ingest(ctx, upload("go.txt", textOfLength(1200)))
	require.NoError(t, err)

	h.model.err = errors.New("API returned unexpected status code: 401: Incorrect API key provided")
	_, err = h.rag.Query(ctx, models.QueryRequest{Question: "When was Go announced?"})

	var ge *models.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.True(t, ge.Auth)
	assert.Contains(t, ge.Detail, "401")

	h.model.err = nil
	h.model.answer = "   "
	_, err = h.rag.Query(ctx, models.QueryRequest{Question: "When was Go announced?"})
	assert.ErrorIs(t, err, models.ErrGenerationFailed)
}

func TestQuery_GenerationTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeouts.Generation = 20 * time.Millisecond
	h := newHarness(t, opts)
	ctx := context.Background()

	_, err := h.rag.Ingest(ctx, upload("go.txt", textOfLength(1200)))
	require.NoError(t, err)

	h.model.block = true
	start := time.Now()
	_, err = h.rag.Query(ctx, models.QueryRequest{Question: "When was Go announced?"})

	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.ErrorIs(t, err, models.ErrGenerationFailed)
	assert.Equal(t, "timeout", models.Reason(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQuery_RejectsForeignEmbeddingModel(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	vec, err := embedding.NewHashEmbedder(128).EmbedQuery(ctx, "some other model wrote this chunk")
	require.NoError(t, err)
	_, err = h.chroma.Upsert(ctx, []models.Record{{
		ID: "foreign", Vector: vec, Text: "some other model wrote this chunk", DocumentID: "d", Model: "text-embedding-3-small",
	}})
	require.NoError(t, err)

	_, err = h.rag.Query(ctx, models.QueryRequest{Question: "who wrote this chunk?"})
	assert.ErrorIs(t, err, models.ErrIndexQueryFailed)
	assert.Zero(t, h.model.calls)
}

func TestDeleteDocument(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	res, err := h.rag.Ingest(ctx, upload("go.txt", textOfLength(2500)))
	require.NoError(t, err)

	require.NoError(t, h.rag.DeleteDocument(ctx, res.Document.ID))
	assert.Zero(t, h.chroma.Count())

	_, err = h.rag.GetDocument(ctx, res.Document.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, h.rag.DeleteDocument(ctx, res.Document.ID), models.ErrNotFound)

	resp, err := h.rag.Query(ctx, models.QueryRequest{Question: "When was Go announced?"})
	require.NoError(t, err)
	assert.Equal(t, models.NoRelevantInformationAnswer, resp.Answer)
}

// Deleting the metadata record while the vector delete fails leaves the
// vectors in the index. They keep answering queries; nothing reconciles them.
func TestDeleteDocument_OrphanedVectorsStayQueryable(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	res, err := h.rag.Ingest(ctx, upload("go.txt", textOfLength(2500)))
	require.NoError(t, err)

	h.index.deleteErr = errors.New("index unavailable")
	err = h.rag.DeleteDocument(ctx, res.Document.ID)
	assert.ErrorIs(t, err, models.ErrStorage)

	_, err = h.rag.GetDocument(ctx, res.Document.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 4, h.chroma.Count())

	resp, err := h.rag.Query(ctx, models.QueryRequest{Question: "When was Go announced?"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RelevantTexts)
	assert.Equal(t, 1, h.model.calls)
}
