package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/parser"
)

type ingestState struct {
	req        models.IngestRequest
	sourceType models.SourceType
	text       string
	doc        *models.Document
	chunks     []models.Chunk
	vectors    [][]float32
	written    []string
}

type stage struct {
	name string
	run  func(ctx context.Context, st *ingestState) error
}

// ingestStages lists the ingestion steps in order. The first failing stage
// ends the ingest; nothing is persisted before the last one.
func (r *RAG) ingestStages() []stage {
	return []stage{
		{"resolve", r.resolveType},
		{"extract", r.extract},
		{"chunk", r.chunk},
		{"embed", r.embed},
		{"upsert", r.upsert},
		{"persist", r.persist},
	}
}

func (r *RAG) resolveType(_ context.Context, st *ingestState) error {
	sourceType, err := parser.ResolveSourceType(st.req.Filename, st.req.MIMEType)
	if err != nil {
		return err
	}
	st.sourceType = sourceType
	return nil
}

func (r *RAG) extract(_ context.Context, st *ingestState) error {
	text, err := parser.Extract(st.req.Data, st.sourceType)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s has no text", models.ErrEmptyDocument, st.req.Filename)
	}
	st.text = text
	return nil
}

func (r *RAG) chunk(_ context.Context, st *ingestState) error {
	segments, err := parser.SplitText(st.text, r.opts.Chunk)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: %s produced no chunks", models.ErrEmptyDocument, st.req.Filename)
	}

	docID, err := helper.GenerateUUID()
	if err != nil {
		return err
	}
	st.doc = &models.Document{
		ID:         docID,
		Name:       st.req.Filename,
		SourceType: st.sourceType,
		ByteSize:   int64(len(st.req.Data)),
		RawText:    st.text,
		UploadedAt: time.Now().UTC(),
	}

	st.chunks = make([]models.Chunk, len(segments))
	for i, seg := range segments {
		chunkID, err := helper.GenerateUUID()
		if err != nil {
			return err
		}
		st.chunks[i] = models.Chunk{
			ID:         chunkID,
			DocumentID: docID,
			Text:       seg.Text,
			Position:   seg.Position,
			Offset:     seg.Offset,
		}
	}
	return nil
}

func (r *RAG) embed(ctx context.Context, st *ingestState) error {
	texts := make([]string, len(st.chunks))
	for i, c := range st.chunks {
		texts[i] = c.Text
	}

	return withTimeout(ctx, r.opts.Timeouts.Embedding, "embedding", func(ctx context.Context) error {
		vectors, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d chunks", models.ErrEmbeddingFailed, len(vectors), len(texts))
		}
		st.vectors = vectors
		return nil
	})
}

func (r *RAG) upsert(ctx context.Context, st *ingestState) error {
	records := make([]models.Record, len(st.chunks))
	for i, c := range st.chunks {
		records[i] = models.Record{
			ID:         c.ID,
			Vector:     st.vectors[i],
			Text:       c.Text,
			DocumentID: c.DocumentID,
			Position:   c.Position,
			Model:      r.embedder.Model(),
		}
	}

	err := withTimeout(ctx, r.opts.Timeouts.Index, "index upsert", func(ctx context.Context) error {
		written, err := r.index.Upsert(ctx, records)
		st.written = written
		return err
	})
	if err == nil {
		st.doc.ChunkIDs = st.written
		return nil
	}

	var pe *models.PartialUpsertError
	if r.opts.RollbackPartialUpserts && errors.As(err, &pe) && len(pe.Written) > 0 {
		r.removeVectors(ctx, pe.Written)
	}
	return err
}

func (r *RAG) persist(ctx context.Context, st *ingestState) error {
	if err := r.store.Save(ctx, st.doc); err != nil {
		// the document never became visible, so its vectors are dropped too
		r.removeVectors(ctx, st.written)
		return err
	}
	return nil
}

// removeVectors is a best-effort cleanup; failures are only logged
func (r *RAG) removeVectors(ctx context.Context, ids []string) {
	err := withTimeout(context.WithoutCancel(ctx), r.opts.Timeouts.Index, "index delete", func(ctx context.Context) error {
		return r.index.Delete(ctx, ids)
	})
	if err != nil {
		log.Error().Err(err).Int("vectors", len(ids)).Msg("failed to remove vectors")
		return
	}
	log.Warn().Int("vectors", len(ids)).Msg("removed vectors of failed ingest")
}
