package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unsupported", fmt.Errorf("resolve: %w", ErrUnsupportedFormat), "unsupported_format"},
		{"extraction", fmt.Errorf("pdf: %w", ErrExtractionFailed), "extraction_failed"},
		{"encoding", ErrEncoding, "encoding_error"},
		{"empty", ErrEmptyDocument, "empty_document"},
		{"embedding", ErrEmbeddingFailed, "embedding_failed"},
		{"partial upsert", &PartialUpsertError{Written: []string{"a"}, Err: errors.New("boom")}, "partial_upsert_failure"},
		{"index", ErrIndexQueryFailed, "index_query_failed"},
		{"generation", &GenerationError{Detail: "rate limited", Err: errors.New("429")}, "generation_failed"},
		{"timeout wins", fmt.Errorf("%w: %w", ErrTimeout, ErrEmbeddingFailed), "timeout"},
		{"unknown", errors.New("something else"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.err))
		})
	}
}

func TestPartialUpsertError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("upsert: %w", &PartialUpsertError{Written: []string{"c1", "c2"}, Err: cause})

	assert.ErrorIs(t, err, ErrPartialUpsert)
	assert.ErrorIs(t, err, cause)

	var pe *PartialUpsertError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"c1", "c2"}, pe.Written)
	assert.Contains(t, err.Error(), "2 record(s) written")
}

func TestGenerationError_Hint(t *testing.T) {
	auth := &GenerationError{Detail: "401 unauthorized", Auth: true, Err: errors.New("401")}
	other := &GenerationError{Detail: "rate limited", Err: errors.New("429")}

	assert.Contains(t, auth.Hint(), "check your API credentials")
	assert.NotContains(t, other.Hint(), "credentials")
	assert.True(t, Retryable(auth))
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, IsAuthFailure(errors.New("API returned unexpected status code: 401: Incorrect API key provided")))
	assert.True(t, IsAuthFailure(errors.New("invalid_api_key")))
	assert.False(t, IsAuthFailure(errors.New("429 too many requests")))
	assert.False(t, IsAuthFailure(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)))
	assert.False(t, Retryable(ErrUnsupportedFormat))
	assert.False(t, Retryable(ErrEmptyDocument))
}
