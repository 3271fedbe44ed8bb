package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-qa/internal/config"
)

// NewFromConfig returns a lazily loaded provider for the configured backend
func NewFromConfig(cfg *config.LLMConfig) (*Provider, error) {
	var load Loader
	switch cfg.Provider {
	case "openai":
		load = func(context.Context) (embeddings.Embedder, error) { return NewOpenAIEmbedder(cfg) }
	case "ollama":
		load = func(context.Context) (embeddings.Embedder, error) { return NewOllamaEmbedder(cfg) }
	case "hash":
		load = func(context.Context) (embeddings.Embedder, error) { return NewHashEmbedder(cfg.Dimensions), nil }
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return NewProvider(cfg.Model, load,
		WithBatchSize(cfg.BatchSize),
		WithConcurrency(cfg.Concurrency),
		WithDimensions(cfg.Dimensions),
	), nil
}

// NewOpenAIEmbedder talks to an OpenAI compatible embeddings endpoint
func NewOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("embedding_model", cfg.Model).Msg("creating openai embedder")

	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.BatchSize))
}

func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("embedding_model", cfg.Model).Msg("creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init ollama client: %w", err)
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.BatchSize))
}
