package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"document-qa/internal/models"
)

type documentRow struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID         string    `bun:"id,pk"`
	Name       string    `bun:"name,notnull"`
	SourceType string    `bun:"source_type,notnull"`
	ByteSize   int64     `bun:"byte_size,notnull"`
	RawText    string    `bun:"raw_text"`
	ChunkIDs   []string  `bun:"chunk_ids,type:text"`
	UploadedAt time.Time `bun:"uploaded_at,notnull"`
}

func toRow(doc *models.Document) *documentRow {
	return &documentRow{
		ID:         doc.ID,
		Name:       doc.Name,
		SourceType: string(doc.SourceType),
		ByteSize:   doc.ByteSize,
		RawText:    doc.RawText,
		ChunkIDs:   doc.ChunkIDs,
		UploadedAt: doc.UploadedAt.UTC(),
	}
}

func (r *documentRow) toDocument() *models.Document {
	chunkIDs := r.ChunkIDs
	if chunkIDs == nil {
		chunkIDs = []string{}
	}
	return &models.Document{
		ID:         r.ID,
		Name:       r.Name,
		SourceType: models.SourceType(r.SourceType),
		ByteSize:   r.ByteSize,
		RawText:    r.RawText,
		ChunkIDs:   chunkIDs,
		UploadedAt: r.UploadedAt,
	}
}

// DocumentStore persists document metadata through bun
type DocumentStore struct {
	db *bun.DB
}

func NewDocumentStore(db *bun.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// InitDB creates the documents table if needed
func (s *DocumentStore) InitDB(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*documentRow)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: create documents table: %w", models.ErrStorage, err)
	}
	return nil
}

// DropDocuments removes the documents table
func (s *DocumentStore) DropDocuments(ctx context.Context) error {
	_, err := s.db.NewDropTable().Model((*documentRow)(nil)).IfExists().Exec(ctx)
	return err
}

func (s *DocumentStore) Save(ctx context.Context, doc *models.Document) error {
	_, err := s.db.NewInsert().Model(toRow(doc)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: insert document %s: %w", models.ErrStorage, doc.ID, err)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	row := new(documentRow)
	err := s.db.NewSelect().Model(row).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get document %s: %w", models.ErrStorage, id, err)
	}
	return row.toDocument(), nil
}

// List returns every document without its raw text, newest first
func (s *DocumentStore) List(ctx context.Context) ([]*models.Document, error) {
	var rows []documentRow
	err := s.db.NewSelect().
		Model(&rows).
		ExcludeColumn("raw_text").
		OrderExpr("d.uploaded_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %w", models.ErrStorage, err)
	}

	docs := make([]*models.Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].toDocument()
	}
	return docs, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().Model((*documentRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: delete document %s: %w", models.ErrStorage, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	return nil
}
