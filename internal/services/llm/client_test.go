package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	name  string
	reply string
	err   error

	calls       int
	model       string
	system      string
	user        string
	temperature float64
}

func (b *recordingBackend) Name() string { return b.name }

func (b *recordingBackend) Complete(_ context.Context, model, systemPrompt, userPrompt string, temperature float64) (string, error) {
	b.calls++
	b.model, b.system, b.user, b.temperature = model, systemPrompt, userPrompt, temperature
	return b.reply, b.err
}

func TestRouterDispatchesByModelID(t *testing.T) {
	oa := &recordingBackend{name: BackendOpenAI, reply: "from openai"}
	co := &recordingBackend{name: BackendCohere, reply: "from cohere"}

	r, err := NewRouter([]Model{
		{ID: 2, Backend: BackendOpenAI, Name: "hermes"},
		{ID: 4, Backend: BackendCohere, Name: "command-r"},
	}, oa, co)
	require.NoError(t, err)

	out, err := r.Complete(context.Background(), Request{
		UserPrompt:   "user",
		SystemPrompt: "system",
		Model:        4,
		Temperature:  0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, "from cohere", out)
	assert.Equal(t, 0, oa.calls)
	assert.Equal(t, 1, co.calls)
	assert.Equal(t, "command-r", co.model)
	assert.Equal(t, "system", co.system)
	assert.Equal(t, "user", co.user)
	assert.InDelta(t, 0.1, co.temperature, 1e-9)
}

func TestRouterUnknownModel(t *testing.T) {
	r, err := NewRouter(nil)
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), Request{Model: 9})
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRouterRejectsMissingBackend(t *testing.T) {
	_, err := NewRouter([]Model{{ID: 1, Backend: "bedrock", Name: "x"}})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRouterPropagatesBackendError(t *testing.T) {
	boom := errors.New("rate limited")
	b := &recordingBackend{name: BackendOpenAI, err: boom}
	r, err := NewRouter([]Model{{ID: 1, Backend: BackendOpenAI, Name: "m"}}, b)
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), Request{Model: 1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, b.calls)
}

func TestRouterModelsSorted(t *testing.T) {
	b := &recordingBackend{name: BackendOpenAI}
	r, err := NewRouter([]Model{
		{ID: 5, Backend: BackendOpenAI, Name: "e"},
		{ID: 1, Backend: BackendOpenAI, Name: "a"},
		{ID: 3, Backend: BackendOpenAI, Name: "c"},
	}, b)
	require.NoError(t, err)

	models := r.Models()
	require.Len(t, models, 3)
	assert.Equal(t, []ModelID{1, 3, 5}, []ModelID{models[0].ID, models[1].ID, models[2].ID})
}

func TestOpenAIBackendComplete(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "mistralai/Mixtral-8x7B-Instruct-v0.1",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "  3 \n"}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13}
		}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend("test-key", srv.URL+"/v1/", 5*time.Second)
	require.NoError(t, err)

	out, err := b.Complete(context.Background(), "mistralai/Mixtral-8x7B-Instruct-v0.1", "sys", "which category?", 0.1)
	require.NoError(t, err)
	assert.Equal(t, "3", out)

	assert.Equal(t, "mistralai/Mixtral-8x7B-Instruct-v0.1", got.Model)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "sys", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "which category?", got.Messages[1].Content)
}

func TestOpenAIBackendDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend("test-key", srv.URL+"/v1/", 5*time.Second)
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), "m", "sys", "user", 0.5)
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewBackendsRequireKeys(t *testing.T) {
	_, err := NewOpenAIBackend("", "", time.Second)
	assert.Error(t, err)

	_, err = NewCohereBackend("", time.Second)
	assert.Error(t, err)

	b, err := NewCohereBackend("key", time.Second)
	require.NoError(t, err)
	assert.Equal(t, BackendCohere, b.Name())
}
