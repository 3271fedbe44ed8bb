package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"document-qa/internal/models"
)

type Config struct {
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Database     DatabaseConfig    `yaml:"database"`
	RAG          RAGConfig         `yaml:"rag"`
	Timeouts     TimeoutConfig     `yaml:"timeouts"`
	Server       ServerConfig      `yaml:"server"`
	Log          LogConfig         `yaml:"log"`
}

// LLMConfig describes a model endpoint. Provider is one of openai, ollama
// or hash (embeddings only).
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Dimensions  int     `yaml:"dimensions"`
	BatchSize   int     `yaml:"batch_size"`
	Concurrency int     `yaml:"concurrency"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// VectorStoreConfig selects the vector index backend: chromem, remote or pgvector.
type VectorStoreConfig struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key"`
	Namespace     string `yaml:"namespace"`
	Dimension     int    `yaml:"dimension"`
	BatchSize     int    `yaml:"batch_size"`
}

// DatabaseConfig selects the document store: memory, pgdriver, postgres (lib/pq) or sqlite.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type RAGConfig struct {
	ChunkSize              int  `yaml:"chunk_size"`
	ChunkOverlap           int  `yaml:"chunk_overlap"`
	TopK                   int  `yaml:"top_k"`
	ContextMatches         int  `yaml:"context_matches"`
	MinTextLength          int  `yaml:"min_text_length"`
	RollbackPartialUpserts bool `yaml:"rollback_partial_upserts"`
}

type TimeoutConfig struct {
	Embedding  time.Duration `yaml:"embedding"`
	Index      time.Duration `yaml:"index"`
	Generation time.Duration `yaml:"generation"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	Mode           string `yaml:"mode"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads the YAML file at path, applies .env and environment
// overrides, fills defaults and validates the result. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setIfEmpty(&c.EmbedLLM.Key, os.Getenv("OPENAI_API_KEY"))
	setIfEmpty(&c.InferenceLLM.Key, os.Getenv("OPENAI_API_KEY"))
	setIfSet(&c.EmbedLLM.Model, os.Getenv("EMBEDDING_MODEL"))
	setIfSet(&c.InferenceLLM.Model, os.Getenv("COMPLETION_MODEL"))
	setIfSet(&c.VectorStore.Collection, os.Getenv("VECTOR_INDEX_NAME"))
	setIfSet(&c.VectorStore.URL, os.Getenv("VECTOR_INDEX_URL"))
	setIfEmpty(&c.VectorStore.APIKey, os.Getenv("VECTOR_INDEX_API_KEY"))
	setIfSet(&c.Database.DSN, os.Getenv("DATABASE_URL"))
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = "hash"
	}
	switch c.EmbedLLM.Provider {
	case "openai":
		setIfEmpty(&c.EmbedLLM.BaseURL, "https://api.openai.com/v1")
		setIfEmpty(&c.EmbedLLM.Model, "text-embedding-3-small")
	case "ollama":
		setIfEmpty(&c.EmbedLLM.BaseURL, "http://localhost:11434")
		setIfEmpty(&c.EmbedLLM.Model, "nomic-embed-text")
	case "hash":
		setIfEmpty(&c.EmbedLLM.Model, "hash-v1")
		if c.EmbedLLM.Dimensions == 0 {
			c.EmbedLLM.Dimensions = 384
		}
	}
	if c.EmbedLLM.BatchSize == 0 {
		c.EmbedLLM.BatchSize = 32
	}
	if c.EmbedLLM.Concurrency == 0 {
		c.EmbedLLM.Concurrency = 4
	}

	if c.InferenceLLM.Provider == "" {
		c.InferenceLLM.Provider = "openai"
	}
	switch c.InferenceLLM.Provider {
	case "openai":
		setIfEmpty(&c.InferenceLLM.BaseURL, "https://api.openai.com/v1")
		setIfEmpty(&c.InferenceLLM.Model, "gpt-3.5-turbo")
	case "ollama":
		setIfEmpty(&c.InferenceLLM.BaseURL, "http://localhost:11434")
		setIfEmpty(&c.InferenceLLM.Model, "llama3")
	}
	if c.InferenceLLM.Temperature == 0 {
		c.InferenceLLM.Temperature = models.DefaultTemperature
	}
	if c.InferenceLLM.MaxTokens == 0 {
		c.InferenceLLM.MaxTokens = models.DefaultMaxTokens
	}

	setIfEmpty(&c.VectorStore.Type, "chromem")
	setIfEmpty(&c.VectorStore.Path, "./chromemdb")
	setIfEmpty(&c.VectorStore.Collection, "documents")
	if c.VectorStore.BatchSize == 0 {
		c.VectorStore.BatchSize = 100
	}

	setIfEmpty(&c.Database.Driver, "memory")

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = models.DefaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 && c.RAG.ChunkSize > models.DefaultChunkOverlap {
		c.RAG.ChunkOverlap = models.DefaultChunkOverlap
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = models.DefaultTopK
	}
	if c.RAG.ContextMatches == 0 {
		c.RAG.ContextMatches = models.DefaultContextMatches
	}
	if c.RAG.MinTextLength == 0 {
		c.RAG.MinTextLength = models.DefaultMinTextLength
	}

	if c.Timeouts.Embedding == 0 {
		c.Timeouts.Embedding = 60 * time.Second
	}
	if c.Timeouts.Index == 0 {
		c.Timeouts.Index = 15 * time.Second
	}
	if c.Timeouts.Generation == 0 {
		c.Timeouts.Generation = 120 * time.Second
	}

	setIfEmpty(&c.Server.Addr, ":3001")
	setIfEmpty(&c.Server.Mode, "release")
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}

	setIfEmpty(&c.Log.Level, "info")
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 || c.RAG.ContextMatches <= 0 || c.RAG.MinTextLength < 0 {
		return errors.New("rag.top_k and rag.context_matches must be positive")
	}
	switch c.EmbedLLM.Provider {
	case "openai", "ollama", "hash":
	default:
		return fmt.Errorf("unknown embed_llm.provider %q", c.EmbedLLM.Provider)
	}
	switch c.InferenceLLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown inference_llm.provider %q", c.InferenceLLM.Provider)
	}
	switch c.VectorStore.Type {
	case "chromem":
	case "remote":
		if c.VectorStore.URL == "" {
			return errors.New("vector_store.url is required for the remote index")
		}
	case "pgvector":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the pgvector index")
		}
		if c.Database.Driver == "sqlite" {
			return errors.New("the pgvector index needs a postgres database.driver")
		}
	default:
		return fmt.Errorf("unknown vector_store.type %q", c.VectorStore.Type)
	}
	switch c.Database.Driver {
	case "memory", "sqlite", "pgdriver", "postgres":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}
