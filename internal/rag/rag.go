package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/models"
	"document-qa/internal/parser"
)

// Embedder produces unit-length vectors with a single model
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// VectorIndex is the similarity index holding chunk vectors
type VectorIndex interface {
	Upsert(ctx context.Context, records []models.Record) ([]string, error)
	Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error)
	Delete(ctx context.Context, ids []string) error
}

// DocumentStore persists document metadata
type DocumentStore interface {
	Save(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
	Delete(ctx context.Context, id string) error
}

type Timeouts struct {
	Embedding  time.Duration
	Index      time.Duration
	Generation time.Duration
}

type Options struct {
	Chunk                  parser.ChunkOptions
	TopK                   int
	Filter                 FilterOptions
	Timeouts               Timeouts
	RollbackPartialUpserts bool
}

func DefaultOptions() Options {
	return Options{
		Chunk:  parser.DefaultChunkOptions(),
		TopK:   models.DefaultTopK,
		Filter: DefaultFilterOptions(),
	}
}

// OptionsFromConfig maps the rag and timeouts sections
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Chunk: parser.ChunkOptions{ChunkSize: cfg.RAG.ChunkSize, ChunkOverlap: cfg.RAG.ChunkOverlap},
		TopK:  cfg.RAG.TopK,
		Filter: FilterOptions{
			MinTextLength: cfg.RAG.MinTextLength,
			MaxContexts:   cfg.RAG.ContextMatches,
		},
		Timeouts: Timeouts{
			Embedding:  cfg.Timeouts.Embedding,
			Index:      cfg.Timeouts.Index,
			Generation: cfg.Timeouts.Generation,
		},
		RollbackPartialUpserts: cfg.RAG.RollbackPartialUpserts,
	}
}

// RAG ingests documents into the index and answers questions over them
type RAG struct {
	embedder  Embedder
	index     VectorIndex
	store     DocumentStore
	generator *Generator
	opts      Options
}

func NewRAG(embedder Embedder, index VectorIndex, store DocumentStore, generator *Generator, opts Options) *RAG {
	return &RAG{embedder: embedder, index: index, store: store, generator: generator, opts: opts}
}

// Ingest runs the ingestion stages and returns the stored document. The
// document is persisted only after all of its vectors were upserted.
func (r *RAG) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	st := &ingestState{req: req}
	for _, s := range r.ingestStages() {
		start := time.Now()
		if err := s.run(ctx, st); err != nil {
			log.Warn().Err(err).Str("stage", s.name).Str("file", req.Filename).Msg("ingest failed")
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		log.Debug().Str("stage", s.name).Dur("took", time.Since(start)).Msg("ingest stage done")
	}

	log.Info().Str("document_id", st.doc.ID).Str("file", req.Filename).Int("chunks", len(st.chunks)).Msg("document ingested")
	return &models.IngestResult{
		Document:   st.doc,
		ChunkCount: len(st.chunks),
		IndexedIDs: st.written,
	}, nil
}

// Query answers a question from the most similar chunks. When no match
// survives filtering the canned answer is returned without calling the model.
func (r *RAG) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", models.ErrInvalidInput)
	}

	var vector []float32
	err := withTimeout(ctx, r.opts.Timeouts.Embedding, "embedding", func(ctx context.Context) error {
		var err error
		vector, err = r.embedder.EmbedOne(ctx, question)
		return err
	})
	if err != nil {
		return nil, err
	}

	var matches []models.Match
	err = withTimeout(ctx, r.opts.Timeouts.Index, "index query", func(ctx context.Context) error {
		var err error
		matches, err = r.index.Query(ctx, vector, r.opts.TopK)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := r.checkModels(matches); err != nil {
		return nil, err
	}

	retrieval := FilterMatches(matches, r.opts.Filter)
	log.Debug().Int("matches", len(matches)).Int("survivors", retrieval.Survivors).Msg("retrieved context")
	if len(retrieval.Contexts) == 0 {
		return &models.QueryResponse{
			Answer:        models.NoRelevantInformationAnswer,
			RelevantTexts: []string{},
			SourceCount:   0,
		}, nil
	}

	var answer string
	err = withTimeout(ctx, r.opts.Timeouts.Generation, "generation", func(ctx context.Context) error {
		var err error
		answer, err = r.generator.Generate(ctx, question, retrieval.ContextBlock())
		return err
	})
	if err != nil {
		return nil, err
	}

	return &models.QueryResponse{
		Answer:        answer,
		RelevantTexts: retrieval.Contexts,
		SourceCount:   retrieval.Survivors,
	}, nil
}

// checkModels rejects matches embedded by a different model than the one
// answering the query; records without a model are accepted.
func (r *RAG) checkModels(matches []models.Match) error {
	want := r.embedder.Model()
	for _, m := range matches {
		if m.Model != "" && m.Model != want {
			return fmt.Errorf("%w: chunk %s was embedded with %q, query uses %q",
				models.ErrIndexQueryFailed, m.ChunkID, m.Model, want)
		}
	}
	return nil
}

func (r *RAG) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	return r.store.List(ctx)
}

func (r *RAG) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return r.store.Get(ctx, id)
}

// DeleteDocument removes the metadata record first and then its vectors.
// If the vector delete fails the vectors stay in the index and remain
// queryable; there is no reconciliation.
func (r *RAG) DeleteDocument(ctx context.Context, id string) error {
	doc, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	err = withTimeout(ctx, r.opts.Timeouts.Index, "index delete", func(ctx context.Context) error {
		return r.index.Delete(ctx, doc.ChunkIDs)
	})
	if err != nil {
		log.Error().Err(err).Str("document_id", id).Int("vectors", len(doc.ChunkIDs)).Msg("vectors left behind after document delete")
		return fmt.Errorf("%w: document %s deleted but %d vector(s) remain: %w", models.ErrStorage, id, len(doc.ChunkIDs), err)
	}
	log.Info().Str("document_id", id).Int("vectors", len(doc.ChunkIDs)).Msg("document deleted")
	return nil
}

// withTimeout runs fn under its own deadline. A call that fails because the
// deadline passed is reported as ErrTimeout wrapping the stage error.
func withTimeout(ctx context.Context, d time.Duration, stage string, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if d > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if isTimeout(err) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded %s: %w", models.ErrTimeout, stage, d, err)
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
