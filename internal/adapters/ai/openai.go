// Package ai adapts the OpenAI chat completion API to core.Completer and
// classifies its failures into the retryable/fatal taxonomy.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/config"
	"github.com/covenantmedia/pulpit/internal/core"
)

type Completer struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

var _ core.Completer = (*Completer)(nil)

func New(cfg config.AIConfig) *Completer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	log.Info().Str("module", "adapters.ai").Str("model", cfg.Model).Msg("completer ready")
	return &Completer{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}
}

func (c *Completer) Complete(ctx context.Context, p core.Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	messages = append(messages, openai.UserMessage(p.User))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", core.ErrFatal)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify maps an SDK failure onto the bridge taxonomy. API responses
// carry a status code; everything else is transport trouble and worth
// a retry.
func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return fmt.Errorf("%w: status %d: %s", classifyStatus(apierr.StatusCode), apierr.StatusCode, apierr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timeout: %v", core.ErrRetryable, err)
	}
	return fmt.Errorf("%w: %v", core.ErrRetryable, err)
}

// classifyStatus: quota exhaustion and malformed prompts are fatal, the
// service being momentarily unwell is not.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusRequestTimeout:
		return core.ErrRetryable
	case status >= 500:
		return core.ErrRetryable
	default:
		return core.ErrFatal
	}
}
