package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"document-qa/internal/models"
)

// Generator answers a question from a context block with a chat model
type Generator struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

func NewGenerator(model llms.Model, temperature float64, maxTokens int) *Generator {
	if temperature <= 0 {
		temperature = models.DefaultTemperature
	}
	if maxTokens <= 0 {
		maxTokens = models.DefaultMaxTokens
	}
	return &Generator{model: model, temperature: temperature, maxTokens: maxTokens}
}

// Generate sends a system instruction plus the grounded prompt and returns
// the trimmed completion.
func (g *Generator) Generate(ctx context.Context, question, contextBlock string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf(models.AnswerPromptTemplate, contextBlock, question)),
	}

	resp, err := g.model.GenerateContent(ctx, messages,
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		return "", &models.GenerationError{Detail: err.Error(), Auth: models.IsAuthFailure(err), Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &models.GenerationError{Detail: "provider returned no choices"}
	}

	answer := strings.TrimSpace(resp.Choices[0].Content)
	if answer == "" {
		return "", &models.GenerationError{Detail: "provider returned an empty completion"}
	}
	log.Debug().Int("context_chars", len(contextBlock)).Int("answer_chars", len(answer)).Msg("generated answer")
	return answer, nil
}
