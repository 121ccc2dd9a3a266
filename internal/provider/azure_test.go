package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"relaybot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-35-turbo",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Paris"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 14, "completion_tokens": 1, "total_tokens": 15}
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRequest() domain.ChatRequest {
	return domain.ChatRequest{
		Model:    "gpt-35-turbo (version 0301)",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "What is the capital of France?"}},
		Sampling: domain.Sampling{
			Temperature:      1,
			TopP:             0.9,
			PresencePenalty:  0,
			FrequencyPenalty: 1,
			MaxTokens:        512,
		},
	}
}

func newTestAzure(url string) *Azure {
	return NewAzure(AzureConfig{
		APIKey:     "secret",
		Endpoint:   url,
		Deployment: "chat-deploy",
		APIVersion: "2024-02-01",
		Logger:     discardLogger(),
	})
}

func TestAzureChatRequestShape(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/openai/deployments/chat-deploy/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	resp, err := newTestAzure(srv.URL).Chat(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "gpt-35-turbo (version 0301)", body["model"])
	assert.InDelta(t, 1.0, body["temperature"], 1e-6)
	assert.InDelta(t, 0.9, body["top_p"], 1e-6)
	assert.InDelta(t, 1.0, body["frequency_penalty"], 1e-6)
	assert.InDelta(t, 512.0, body["max_tokens"], 1e-6)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "What is the capital of France?", first["content"])

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Paris", resp.Choices[0].Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestAzureStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"rate_limit_exceeded","code":"429"}}`)
	}))
	defer srv.Close()

	_, err := newTestAzure(srv.URL).Chat(context.Background(), sampleRequest())
	require.Error(t, err)

	var respErr *domain.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusTooManyRequests, respErr.StatusCode)
	assert.Equal(t, "rate limited", respErr.Body)
}

func TestAzurePlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream unavailable")
	}))
	defer srv.Close()

	_, err := newTestAzure(srv.URL).Chat(context.Background(), sampleRequest())

	var respErr *domain.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusBadGateway, respErr.StatusCode)
	assert.Equal(t, "upstream unavailable", respErr.Body)
}

func TestAzureJSONWithoutErrorMessageKeepsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"detail":"quota exceeded"}`)
	}))
	defer srv.Close()

	_, err := newTestAzure(srv.URL).Chat(context.Background(), sampleRequest())

	var respErr *domain.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusForbidden, respErr.StatusCode)
	assert.Equal(t, `{"detail":"quota exceeded"}`, respErr.Body)
}

func TestAzureTransportErrorIsUnstructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestAzure(url).Chat(context.Background(), sampleRequest())
	require.Error(t, err)

	var respErr *domain.ResponseError
	assert.False(t, errors.As(err, &respErr))
}

func TestAzureWithoutDeploymentUsesModel(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	az := NewAzure(AzureConfig{APIKey: "k", Endpoint: srv.URL + "/", Logger: discardLogger()})
	req := sampleRequest()
	req.Model = "gpt4o"
	_, err := az.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/openai/deployments/gpt4o/chat/completions", path)
}
