package db

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"document-qa/internal/models"
)

// ChunkVector is one row of the pgvector backed index
type ChunkVector struct {
	bun.BaseModel `bun:"table:chunk_vectors,alias:cv"`

	ID         string          `bun:"id,pk"`
	DocumentID string          `bun:"document_id,notnull"`
	Position   int             `bun:"position,notnull"`
	Content    string          `bun:"content,notnull"`
	Model      string          `bun:"model,notnull"`
	Embedding  pgvector.Vector `bun:"embedding,notnull"`
	Score      float64         `bun:"score,scanonly"`
}

// VectorIndex stores chunk vectors in PostgreSQL with the pgvector extension
// and ranks them by cosine distance.
type VectorIndex struct {
	db        *bun.DB
	dimension int
	batchSize int
}

func NewVectorIndex(db *bun.DB, dimension, batchSize int) *VectorIndex {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &VectorIndex{db: db, dimension: dimension, batchSize: batchSize}
}

// InitDB enables the extension and creates the table and its HNSW index
func (v *VectorIndex) InitDB(ctx context.Context) error {
	if v.dimension <= 0 {
		return fmt.Errorf("pgvector index needs a positive dimension, got %d", v.dimension)
	}
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_vectors (
	id text PRIMARY KEY,
	document_id text NOT NULL,
	position integer NOT NULL,
	content text NOT NULL,
	model text NOT NULL,
	embedding vector(%d) NOT NULL
)`, v.dimension),
		"CREATE INDEX IF NOT EXISTS chunk_vectors_embedding_idx ON chunk_vectors USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range stmts {
		if _, err := v.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: init pgvector: %w", models.ErrStorage, err)
		}
	}
	return nil
}

func (v *VectorIndex) Upsert(ctx context.Context, records []models.Record) ([]string, error) {
	written := make([]string, 0, len(records))
	for start := 0; start < len(records); start += v.batchSize {
		batch := records[start:min(start+v.batchSize, len(records))]

		rows := make([]ChunkVector, len(batch))
		for i, r := range batch {
			if len(r.Vector) != v.dimension {
				err := fmt.Errorf("embedding dimension mismatch for id=%s: got %d, want %d", r.ID, len(r.Vector), v.dimension)
				return written, &models.PartialUpsertError{Written: written, Err: err}
			}
			rows[i] = ChunkVector{
				ID:         r.ID,
				DocumentID: r.DocumentID,
				Position:   r.Position,
				Content:    r.Text,
				Model:      r.Model,
				Embedding:  pgvector.NewVector(r.Vector),
			}
		}

		_, err := v.db.NewInsert().
			Model(&rows).
			On("CONFLICT (id) DO UPDATE").
			Set("document_id = EXCLUDED.document_id").
			Set("position = EXCLUDED.position").
			Set("content = EXCLUDED.content").
			Set("model = EXCLUDED.model").
			Set("embedding = EXCLUDED.embedding").
			Exec(ctx)
		if err != nil {
			return written, &models.PartialUpsertError{Written: written, Err: fmt.Errorf("upsert vectors: %w", err)}
		}
		for _, r := range batch {
			written = append(written, r.ID)
		}
	}

	log.Debug().Int("records", len(written)).Msg("upserted vectors to pgvector")
	return written, nil
}

// Query ranks by cosine distance; score is 1 - distance
func (v *VectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", models.ErrIndexQueryFailed)
	}
	if len(vector) != v.dimension {
		return nil, fmt.Errorf("%w: query vector dimension mismatch: got %d, want %d", models.ErrIndexQueryFailed, len(vector), v.dimension)
	}

	q := pgvector.NewVector(vector)
	var rows []ChunkVector
	err := v.db.NewSelect().
		Model(&rows).
		Column("id", "document_id", "position", "content", "model").
		ColumnExpr("1 - (embedding <=> ?) AS score", q).
		OrderExpr("embedding <=> ?", q).
		Limit(topK).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexQueryFailed, err)
	}

	matches := make([]models.Match, len(rows))
	for i, row := range rows {
		matches[i] = models.Match{
			ChunkID:    row.ID,
			Score:      row.Score,
			Text:       row.Content,
			DocumentID: row.DocumentID,
			Position:   row.Position,
			Model:      row.Model,
		}
	}
	return matches, nil
}

func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := v.db.NewDelete().Model((*ChunkVector)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}
