package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// VectorDBManager keeps chunk vectors in a chromem-go collection, either in
// memory or persisted under dbPath.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string

	mu  sync.Mutex
	dim int
}

// NewVectorDBManager opens the database and the configured collection
func NewVectorDBManager(cfg *config.VectorStoreConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		dbPath:        cfg.Path,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		dim:           cfg.Dimension,
	}
	if _, err := m.GetOrCreateCollection(cfg.Collection); err != nil {
		return nil, err
	}
	return m, nil
}

// GetOrCreateCollection switches the manager to the named collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	// vectors are always supplied, so no embedding func is needed
	c, err := m.db.GetOrCreateCollection(collectionName, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: documents must carry their embedding")
}

// Upsert stores records one by one so that a failure reports exactly which
// ids were written. Re-adding an id overwrites it.
func (m *VectorDBManager) Upsert(ctx context.Context, records []models.Record) ([]string, error) {
	written := make([]string, 0, len(records))
	for _, r := range records {
		if err := m.checkDim(len(r.Vector), true); err != nil {
			return written, &models.PartialUpsertError{Written: written, Err: err}
		}
		doc := chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Vector,
			Metadata: map[string]string{
				models.MetaText:       r.Text,
				models.MetaDocumentID: r.DocumentID,
				models.MetaPosition:   strconv.Itoa(r.Position),
				models.MetaModel:      r.Model,
			},
		}
		if err := m.collection.AddDocument(ctx, doc); err != nil {
			return written, &models.PartialUpsertError{Written: written, Err: fmt.Errorf("failed to add document %s: %w", r.ID, err)}
		}
		written = append(written, r.ID)
	}

	log.Debug().Str("collection", m.collection.Name).Int("records", len(written)).Msg("upserted vectors")
	return written, nil
}

// Query returns up to topK nearest records, best first
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", models.ErrIndexQueryFailed)
	}
	if err := m.checkDim(len(vector), false); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexQueryFailed, err)
	}

	// chromem rejects nResults above the collection size
	n := min(topK, m.collection.Count())
	if n == 0 {
		return []models.Match{}, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query by similarity: %w", models.ErrIndexQueryFailed, err)
	}

	matches := make([]models.Match, 0, len(results))
	for _, res := range results {
		position, _ := strconv.Atoi(res.Metadata[models.MetaPosition])
		text, ok := res.Metadata[models.MetaText]
		if !ok {
			text = res.Content
		}
		matches = append(matches, models.Match{
			ChunkID:    res.ID,
			Score:      float64(res.Similarity),
			Text:       text,
			DocumentID: res.Metadata[models.MetaDocumentID],
			Position:   position,
			Model:      res.Metadata[models.MetaModel],
		})
	}
	return matches, nil
}

// Delete removes records by id; unknown ids are ignored
func (m *VectorDBManager) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// DeleteDocument removes every vector of one document
func (m *VectorDBManager) DeleteDocument(ctx context.Context, documentID string) error {
	where := map[string]string{models.MetaDocumentID: documentID}
	if err := m.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("failed to delete vectors of %s: %w", documentID, err)
	}
	return nil
}

// Count returns the number of stored vectors
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

func (m *VectorDBManager) checkDim(n int, lock bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim == 0 {
		if lock && n > 0 {
			m.dim = n
		}
		return nil
	}
	if n != m.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", n, m.dim)
	}
	return nil
}

// DeleteCollection drops the whole collection
func (m *VectorDBManager) DeleteCollection() error {
	name := m.collection.Name
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	_, err := m.GetOrCreateCollection(name)
	return err
}

// SnapshotPath is the default export file of the current collection
func (m *VectorDBManager) SnapshotPath() string {
	name := m.collection.Name + ".gob"
	if m.compress {
		name += ".gz"
	}
	return filepath.Join(m.dbPath, name+".enc")
}

// Export writes the collection to an encrypted snapshot file
func (m *VectorDBManager) Export(ctx context.Context, filePath string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if filePath == "" {
		filePath = m.SnapshotPath()
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", filePath).Bool("compress", m.compress).Msg("exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection from a snapshot written by Export
func (m *VectorDBManager) Import(ctx context.Context, filePath string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if filePath == "" {
		filePath = m.SnapshotPath()
	}

	name := m.collection.Name
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// import replaces the collection object
	_, err := m.GetOrCreateCollection(name)
	return err
}
