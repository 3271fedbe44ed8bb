package remoteindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
)

// fakeIndex is an in-memory index speaking the REST contract
type fakeIndex struct {
	mu        sync.Mutex
	vectors   map[string]upsertVector
	upserts   int
	failAfter int // fail upsert calls after this many succeeded; 0 disables
	apiKeys   []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vectors: map[string]upsertVector{}}
}

func (f *fakeIndex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("Api-Key"))

	switch r.URL.Path {
	case "/vectors/upsert":
		if f.failAfter > 0 && f.upserts >= f.failAfter {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			return
		}
		var req upsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, v := range req.Vectors {
			f.vectors[v.ID] = v
		}
		f.upserts++
		_ = json.NewEncoder(w).Encode(map[string]int{"upsertedCount": len(req.Vectors)})
	case "/query":
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		matches := []queryMatch{}
		for id, v := range f.vectors {
			score := dot(req.Vector, v.Values)
			meta := v.Metadata
			matches = append(matches, queryMatch{ID: id, Score: &score, Metadata: &meta})
		}
		// ascending on purpose; the client must sort
		sort.Slice(matches, func(i, j int) bool { return *matches[i].Score < *matches[j].Score })
		_ = json.NewEncoder(w).Encode(map[string]any{"matches": matches})
	case "/vectors/delete":
		var req deleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, id := range req.IDs {
			delete(f.vectors, id)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	default:
		http.NotFound(w, r)
	}
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func testRecords() []models.Record {
	return []models.Record{
		{ID: "a", Vector: []float32{1, 0}, Text: "alpha chunk text", DocumentID: "d", Position: 0, Model: "m"},
		{ID: "b", Vector: []float32{0.6, 0.8}, Text: "beta chunk text", DocumentID: "d", Position: 1, Model: "m"},
		{ID: "c", Vector: []float32{0, 1}, Text: "gamma chunk text", DocumentID: "d", Position: 2, Model: "m"},
	}
}

func TestClient_UpsertQueryDelete(t *testing.T) {
	index := newFakeIndex()
	srv := httptest.NewServer(index)
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "secret", BatchSize: 2})
	ctx := context.Background()

	written, err := c.Upsert(ctx, testRecords())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, written)
	assert.Equal(t, 2, index.upserts)

	matches, err := c.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ChunkID)
	assert.Equal(t, "b", matches[1].ChunkID)
	assert.Equal(t, "beta chunk text", matches[1].Text)
	assert.Equal(t, 1, matches[1].Position)
	assert.Equal(t, "m", matches[1].Model)

	require.NoError(t, c.Delete(ctx, []string{"a"}))
	matches, err = c.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	for _, key := range index.apiKeys {
		assert.Equal(t, "secret", key)
	}
}

func TestClient_UpsertIsIdempotent(t *testing.T) {
	index := newFakeIndex()
	srv := httptest.NewServer(index)
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL})
	ctx := context.Background()

	rec := testRecords()[0]
	_, err := c.Upsert(ctx, []models.Record{rec})
	require.NoError(t, err)
	rec.Vector = []float32{0, 1}
	_, err = c.Upsert(ctx, []models.Record{rec})
	require.NoError(t, err)

	matches, err := c.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestClient_PartialUpsert(t *testing.T) {
	index := newFakeIndex()
	index.failAfter = 1
	srv := httptest.NewServer(index)
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, BatchSize: 2})
	written, err := c.Upsert(context.Background(), testRecords())

	var pe *models.PartialUpsertError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, models.ErrPartialUpsert)
	assert.Equal(t, []string{"a", "b"}, pe.Written)
	assert.Equal(t, []string{"a", "b"}, written)
	assert.Contains(t, err.Error(), "429")
}

func TestClient_RejectsMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing matches", `{}`},
		{"missing id", `{"matches":[{"score":0.5,"metadata":{"text":"hello there"}}]}`},
		{"missing score", `{"matches":[{"id":"x","metadata":{"text":"hello there"}}]}`},
		{"score out of range", `{"matches":[{"id":"x","score":3.5,"metadata":{"text":"hello there"}}]}`},
		{"missing metadata", `{"matches":[{"id":"x","score":0.5}]}`},
		{"missing text", `{"matches":[{"id":"x","score":0.5,"metadata":{"position":1}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(Config{URL: srv.URL}).Query(context.Background(), []float32{1}, 3)
			assert.ErrorIs(t, err, models.ErrIndexQueryFailed)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestClient_QueryHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}).Query(context.Background(), []float32{1}, 3)
	assert.ErrorIs(t, err, models.ErrIndexQueryFailed)
	assert.Contains(t, err.Error(), "index unavailable")
}

func TestClient_UpsertCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"upsertedCount":1}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}).Upsert(context.Background(), testRecords())
	assert.ErrorIs(t, err, models.ErrPartialUpsert)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
