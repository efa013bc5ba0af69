package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

const BackendCohere = "cohere"

// CohereBackend serves models hosted by Cohere's chat endpoint.
type CohereBackend struct {
	client *cohereclient.Client
}

var _ Backend = (*CohereBackend)(nil)

func NewCohereBackend(apiKey string, timeout time.Duration) (*CohereBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Cohere API key is required")
	}

	client := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return &CohereBackend{client: client}, nil
}

func (b *CohereBackend) Name() string { return BackendCohere }

func (b *CohereBackend) Complete(ctx context.Context, model, systemPrompt, userPrompt string, temperature float64) (string, error) {
	resp, err := b.client.Chat(ctx, &cohere.ChatRequest{
		Message:     userPrompt,
		Model:       &model,
		Preamble:    &systemPrompt,
		Temperature: &temperature,
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Text), nil
}
