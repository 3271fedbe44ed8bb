package remoteindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// ErrMalformedResponse marks a response that does not match the wire contract
var ErrMalformedResponse = errors.New("malformed index response")

// scores outside [-1, 1] by more than this are rejected
const scoreTolerance = 1e-3

// Client talks to a managed vector index over its REST API
type Client struct {
	url       string
	apiKey    string
	namespace string
	batchSize int
	client    *http.Client
}

type Config struct {
	URL       string
	APIKey    string
	Namespace string
	BatchSize int
	Timeout   time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Client{
		url:       strings.TrimRight(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		namespace: cfg.Namespace,
		batchSize: batchSize,
		client:    &http.Client{Timeout: timeout},
	}
}

// NewFromConfig builds a client from the vector_store section
func NewFromConfig(cfg *config.VectorStoreConfig, timeout time.Duration) *Client {
	return NewClient(Config{
		URL:       cfg.URL,
		APIKey:    cfg.APIKey,
		Namespace: cfg.Namespace,
		BatchSize: cfg.BatchSize,
		Timeout:   timeout,
	})
}

type vectorMetadata struct {
	Text       *string `json:"text"`
	DocumentID string  `json:"document_id,omitempty"`
	Position   int     `json:"position"`
	Model      string  `json:"model,omitempty"`
}

type upsertVector struct {
	ID       string         `json:"id"`
	Values   []float64      `json:"vector"`
	Metadata vectorMetadata `json:"metadata"`
}

type upsertRequest struct {
	Vectors   []upsertVector `json:"vectors"`
	Namespace string         `json:"namespace,omitempty"`
}

type upsertResponse struct {
	UpsertedCount *int `json:"upsertedCount"`
}

type queryRequest struct {
	Vector          []float64 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	Namespace       string    `json:"namespace,omitempty"`
}

type queryMatch struct {
	ID       string          `json:"id"`
	Score    *float64        `json:"score"`
	Metadata *vectorMetadata `json:"metadata"`
}

type queryResponse struct {
	Matches *[]queryMatch `json:"matches"`
}

type deleteRequest struct {
	IDs       []string `json:"ids"`
	Namespace string   `json:"namespace,omitempty"`
}

// Upsert sends records in batches. When a batch fails, the ids of the
// batches already acknowledged are reported in a PartialUpsertError.
func (c *Client) Upsert(ctx context.Context, records []models.Record) ([]string, error) {
	written := make([]string, 0, len(records))
	for start := 0; start < len(records); start += c.batchSize {
		batch := records[start:min(start+c.batchSize, len(records))]

		req := upsertRequest{Vectors: make([]upsertVector, len(batch)), Namespace: c.namespace}
		for i, r := range batch {
			text := r.Text
			req.Vectors[i] = upsertVector{
				ID:     r.ID,
				Values: toFloat64(r.Vector),
				Metadata: vectorMetadata{
					Text:       &text,
					DocumentID: r.DocumentID,
					Position:   r.Position,
					Model:      r.Model,
				},
			}
		}

		var resp upsertResponse
		err := c.postJSON(ctx, "/vectors/upsert", req, &resp)
		if err == nil && (resp.UpsertedCount == nil || *resp.UpsertedCount != len(batch)) {
			err = fmt.Errorf("%w: upsertedCount does not match batch of %d", ErrMalformedResponse, len(batch))
		}
		if err != nil {
			return written, &models.PartialUpsertError{Written: written, Err: err}
		}
		for _, r := range batch {
			written = append(written, r.ID)
		}
	}

	log.Debug().Int("records", len(written)).Msg("upserted vectors to remote index")
	return written, nil
}

// Query returns at most topK matches by descending score
func (c *Client) Query(ctx context.Context, vector []float32, topK int) ([]models.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", models.ErrIndexQueryFailed)
	}

	req := queryRequest{Vector: toFloat64(vector), TopK: topK, IncludeMetadata: true, Namespace: c.namespace}
	var resp queryResponse
	if err := c.postJSON(ctx, "/query", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexQueryFailed, err)
	}

	matches, err := decodeMatches(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexQueryFailed, err)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func decodeMatches(resp queryResponse) ([]models.Match, error) {
	if resp.Matches == nil {
		return nil, fmt.Errorf("%w: missing matches", ErrMalformedResponse)
	}
	matches := make([]models.Match, 0, len(*resp.Matches))
	for i, m := range *resp.Matches {
		switch {
		case m.ID == "":
			return nil, fmt.Errorf("%w: match %d has no id", ErrMalformedResponse, i)
		case m.Score == nil:
			return nil, fmt.Errorf("%w: match %s has no score", ErrMalformedResponse, m.ID)
		case math.IsNaN(*m.Score) || math.Abs(*m.Score) > 1+scoreTolerance:
			return nil, fmt.Errorf("%w: match %s has score %v", ErrMalformedResponse, m.ID, *m.Score)
		case m.Metadata == nil || m.Metadata.Text == nil:
			return nil, fmt.Errorf("%w: match %s has no text metadata", ErrMalformedResponse, m.ID)
		}
		matches = append(matches, models.Match{
			ChunkID:    m.ID,
			Score:      *m.Score,
			Text:       *m.Metadata.Text,
			DocumentID: m.Metadata.DocumentID,
			Position:   m.Metadata.Position,
			Model:      m.Metadata.Model,
		})
	}
	return matches, nil
}

// Delete removes vectors by id
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.postJSON(ctx, "/vectors/delete", deleteRequest{IDs: ids, Namespace: c.namespace}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("index POST %s failed: %s: %s", path, resp.Status, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
