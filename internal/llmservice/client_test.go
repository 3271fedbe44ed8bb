package llmservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/config"
)

func TestNewChatModel(t *testing.T) {
	m, err := NewChatModel(&config.LLMConfig{Provider: "ollama", BaseURL: "http://localhost:11434", Model: "llama3"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = NewChatModel(&config.LLMConfig{Provider: "magic"})
	assert.Error(t, err)
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("missing api key")
	m := Unavailable(cause)

	_, err := m.GenerateContent(context.Background(), nil)
	assert.ErrorIs(t, err, cause)
	_, err = m.Call(context.Background(), "hi")
	assert.ErrorIs(t, err, cause)
}
