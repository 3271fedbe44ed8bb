package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"document-qa/internal/models"
)

// Loader builds the backing embedder. It runs at most once per successful
// load; a failed load is attempted again on the next call.
type Loader func(ctx context.Context) (embeddings.Embedder, error)

// Provider turns texts into unit-length vectors. The backend is loaded on
// first use and shared by every caller of the process.
type Provider struct {
	model       string
	load        Loader
	batchSize   int
	concurrency int

	group    singleflight.Group
	mu       sync.RWMutex
	embedder embeddings.Embedder
	dim      int
}

type Option func(*Provider)

// WithBatchSize sets how many texts go to the backend per request
func WithBatchSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of batches in flight
func WithConcurrency(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithDimensions pins the expected vector dimension up front
func WithDimensions(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.dim = n
		}
	}
}

func NewProvider(model string, load Loader, opts ...Option) *Provider {
	p := &Provider{
		model:       model,
		load:        load,
		batchSize:   32,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Model identifies the embedding model; it is stored next to every vector.
func (p *Provider) Model() string {
	return p.model
}

// Dimensions returns the vector dimension, or 0 before the first embedding
func (p *Provider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dim
}

// Warmup loads the backend without embedding anything
func (p *Provider) Warmup(ctx context.Context) error {
	_, err := p.backend(ctx)
	return err
}

func (p *Provider) backend(ctx context.Context) (embeddings.Embedder, error) {
	p.mu.RLock()
	e := p.embedder
	p.mu.RUnlock()
	if e != nil {
		return e, nil
	}

	v, err, shared := p.group.Do("load", func() (any, error) {
		p.mu.RLock()
		e := p.embedder
		p.mu.RUnlock()
		if e != nil {
			return e, nil
		}

		log.Info().Str("model", p.model).Msg("loading embedding model")
		// a cancelled first caller must not fail the load for the others
		e, err := p.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, errors.New("loader returned no embedder")
		}

		p.mu.Lock()
		p.embedder = e
		p.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", models.ErrEmbeddingFailed, p.model, err)
	}
	if shared {
		log.Debug().Str("model", p.model).Msg("shared embedding model load")
	}
	return v.(embeddings.Embedder), nil
}

// Embed returns one normalized vector per text, in input order. Any failed
// batch fails the whole call.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		g.Go(func() error {
			batch, err := e.EmbedDocuments(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("batch [%d:%d]: got %d vectors for %d texts", start, end, len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingFailed, err)
	}

	if err := p.finish(vectors); err != nil {
		return nil, err
	}
	log.Debug().Int("texts", len(texts)).Int("dim", len(vectors[0])).Msg("embedded texts")
	return vectors, nil
}

// EmbedOne embeds a single query text
func (p *Provider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	e, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}
	vector, err := e.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingFailed, err)
	}
	vectors := [][]float32{vector}
	if err := p.finish(vectors); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// finish validates dimensions and normalizes in place
func (p *Provider) finish(vectors [][]float32) error {
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: empty vector", models.ErrEmbeddingFailed)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", models.ErrEmbeddingFailed, i, len(v), dim)
		}
		if err := normalize(v); err != nil {
			return fmt.Errorf("%w: vector %d: %w", models.ErrEmbeddingFailed, i, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dim == 0 {
		p.dim = dim
	}
	if p.dim != dim {
		return fmt.Errorf("%w: model %s produced dimension %d, index expects %d", models.ErrEmbeddingFailed, p.model, dim, p.dim)
	}
	return nil
}

func normalize(v []float32) error {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return fmt.Errorf("cannot normalize vector with norm %v", norm)
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return nil
}
