package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/llmservice"
	"document-qa/internal/rag"
	"document-qa/internal/remoteindex"
)

// app holds the wired pipeline and the resources that must be closed
type app struct {
	cfg      *config.Config
	pipeline *rag.RAG
	chromem  *chromemdb.VectorDBManager
	sqlDB    *bun.DB
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	embedder, err := embedding.NewFromConfig(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	index, err := a.vectorIndex(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("vector index: %w", err)
	}

	store, err := a.documentStore(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("document store: %w", err)
	}

	model, err := llmservice.NewChatModel(&cfg.InferenceLLM)
	if err != nil {
		// ingestion does not need the chat model; queries report the error
		log.Warn().Err(err).Msg("chat model unavailable")
		model = llmservice.Unavailable(err)
	}
	generator := rag.NewGenerator(model, cfg.InferenceLLM.Temperature, cfg.InferenceLLM.MaxTokens)

	a.pipeline = rag.NewRAG(embedder, index, store, generator, rag.OptionsFromConfig(cfg))
	return a, nil
}

func (a *app) vectorIndex(ctx context.Context) (rag.VectorIndex, error) {
	vs := &a.cfg.VectorStore
	switch vs.Type {
	case "chromem":
		if !vs.InMemory {
			if err := helper.CreateFolder(vs.Path); err != nil {
				return nil, err
			}
		}
		m, err := chromemdb.NewVectorDBManager(vs)
		if err != nil {
			return nil, err
		}
		a.chromem = m
		return m, nil
	case "remote":
		return remoteindex.NewFromConfig(vs, a.cfg.Timeouts.Index), nil
	case "pgvector":
		sqlDB, err := a.openSQL()
		if err != nil {
			return nil, err
		}
		dim := vs.Dimension
		if dim == 0 {
			dim = a.cfg.EmbedLLM.Dimensions
		}
		if dim == 0 {
			return nil, errors.New("vector_store.dimension or embed_llm.dimensions is required for pgvector")
		}
		index := db.NewVectorIndex(sqlDB, dim, vs.BatchSize)
		if err := index.InitDB(ctx); err != nil {
			return nil, err
		}
		return index, nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", vs.Type)
	}
}

func (a *app) documentStore(ctx context.Context) (rag.DocumentStore, error) {
	if a.cfg.Database.Driver == "memory" {
		return db.NewMemoryStore(), nil
	}
	sqlDB, err := a.openSQL()
	if err != nil {
		return nil, err
	}
	store := db.NewDocumentStore(sqlDB)
	if err := store.InitDB(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// openSQL connects once and shares the pool between the document store and
// the pgvector index. pgvector always needs postgres, so the memory and
// sqlite drivers fall back to pgdriver for it.
func (a *app) openSQL() (*bun.DB, error) {
	if a.sqlDB != nil {
		return a.sqlDB, nil
	}
	dbCfg := a.cfg.Database
	if a.cfg.VectorStore.Type == "pgvector" && dbCfg.Driver != "postgres" {
		dbCfg.Driver = "pgdriver"
	}
	sqlDB, err := db.ConnectDB(&dbCfg)
	if err != nil {
		return nil, err
	}
	a.sqlDB = sqlDB
	return sqlDB, nil
}

func (a *app) Close() {
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
}
