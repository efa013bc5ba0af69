package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"
)

const BackendOpenAI = "openai"

// OpenAIBackend talks to any OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	client openai.Client
}

var _ Backend = (*OpenAIBackend)(nil)

// NewOpenAIBackend builds a client for baseURL. The SDK's own retries are
// disabled so each Complete is exactly one request.
func NewOpenAIBackend(apiKey, baseURL string, timeout time.Duration) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &OpenAIBackend{client: openai.NewClient(opts...)}, nil
}

func (b *OpenAIBackend) Name() string { return BackendOpenAI }

func (b *OpenAIBackend) Complete(ctx context.Context, model, systemPrompt, userPrompt string, temperature float64) (string, error) {
	start := time.Now()

	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	log.Debug().
		Str("backend", BackendOpenAI).
		Str("model", model).
		Dur("duration", time.Since(start)).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Msg("completion received")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
