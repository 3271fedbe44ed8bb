package models

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline errors. Callers match them with errors.Is; every error returned by
// the rag pipeline wraps at least one of these.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrEncoding          = errors.New("encoding error")
	ErrEmptyDocument     = errors.New("empty document")
	ErrEmbeddingFailed   = errors.New("embedding failed")
	ErrPartialUpsert     = errors.New("partial upsert failure")
	ErrIndexQueryFailed  = errors.New("index query failed")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrTimeout           = errors.New("timeout")

	// collaborator errors
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage failure")
)

// PartialUpsertError reports an upsert that stopped part way. Written holds
// the ids that reached the index; re-upserting them is safe.
type PartialUpsertError struct {
	Written []string
	Err     error
}

func (e *PartialUpsertError) Error() string {
	return fmt.Sprintf("%s: %d record(s) written: %v", ErrPartialUpsert, len(e.Written), e.Err)
}

func (e *PartialUpsertError) Unwrap() []error {
	return wrapped(ErrPartialUpsert, e.Err)
}

// GenerationError carries the completion provider's failure detail
type GenerationError struct {
	Detail string
	Auth   bool
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGenerationFailed, e.Detail)
}

func (e *GenerationError) Unwrap() []error {
	return wrapped(ErrGenerationFailed, e.Err)
}

func wrapped(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}

// Hint returns a user facing suggestion for the failure, if any
func (e *GenerationError) Hint() string {
	if e.Auth {
		return "Failed to generate answer. Please check your API credentials and try again."
	}
	return "Failed to generate answer. Please try again."
}

// IsAuthFailure guesses from a provider error whether credentials were rejected.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "unauthorized", "invalid api key", "incorrect api key", "invalid_api_key", "authentication"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// reason codes in precedence order; timeout wins over the stage error it wraps
var reasons = []struct {
	err  error
	code string
}{
	{ErrTimeout, "timeout"},
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrExtractionFailed, "extraction_failed"},
	{ErrEncoding, "encoding_error"},
	{ErrEmptyDocument, "empty_document"},
	{ErrEmbeddingFailed, "embedding_failed"},
	{ErrPartialUpsert, "partial_upsert_failure"},
	{ErrIndexQueryFailed, "index_query_failed"},
	{ErrGenerationFailed, "generation_failed"},
	{ErrInvalidInput, "invalid_input"},
	{ErrNotFound, "not_found"},
	{ErrStorage, "storage_failure"},
}

// Reason maps an error to a stable machine-readable code.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "internal"
}

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	switch Reason(err) {
	case "timeout", "embedding_failed", "partial_upsert_failure", "index_query_failed", "generation_failed", "storage_failure":
		return true
	}
	return false
}
