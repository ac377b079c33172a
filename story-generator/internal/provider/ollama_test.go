package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	// Суффикс /v1 срезается конструктором
	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL + "/v1/"}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func ollamaChatResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"model":             "llava",
		"created_at":        "2026-01-01T00:00:00Z",
		"message":           map[string]any{"role": "assistant", "content": content},
		"done":              true,
		"prompt_eval_count": 120,
		"eval_count":        80,
	})
	return string(body)
}

func TestOllama_DescribeImage(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["stream"])
		messages := req["messages"].([]any)
		require.Len(t, messages, 1)
		assert.NotEmpty(t, messages[0].(map[string]any)["images"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, ollamaChatResponse("  A red cat wearing a tall hat. "))
	})

	res, usage, err := client.DescribeImage(context.Background(), VisionRequest{
		Call:     Call{Model: "llava"},
		Image:    pngHeader,
		Language: "en",
	})
	require.NoError(t, err)
	assert.Equal(t, "A red cat wearing a tall hat.", res.Description)
	assert.Equal(t, 120, usage.PromptTokens)
	assert.Equal(t, 80, usage.CompletionTokens)
	assert.Zero(t, usage.CostUSD, "локальная модель бесплатна")
}

func TestOllama_DescribeImage_EmptyImage(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("vendor must not be called without an image")
	})

	_, _, err := client.DescribeImage(context.Background(), VisionRequest{Call: Call{Model: "llava"}})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidResponse, kind)
}

func TestOllama_GenerateStory(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req["format"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, ollamaChatResponse(`{"title":"Кот","body":"Жил-был кот."}`))
	})

	res, _, err := client.GenerateStory(context.Background(), TextRequest{Call: Call{Model: "llama3"}, SystemPrompt: "s", UserPrompt: "u"})
	require.NoError(t, err)
	assert.Equal(t, "Кот", res.Title)
	assert.Equal(t, "Жил-был кот.", res.Body)
}

func TestOllama_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
		want    ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, "", KindRateLimited},
		{"server down", http.StatusServiceUnavailable, "", KindUnavailable},
		{"not a story", http.StatusOK, "Once upon a time", KindInvalidResponse},
		{"empty", http.StatusOK, "   ", KindInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if tt.status != http.StatusOK {
					w.WriteHeader(tt.status)
					fmt.Fprint(w, `{"error":"model is busy"}`)
					return
				}
				fmt.Fprintln(w, ollamaChatResponse(tt.content))
			})

			_, _, err := client.GenerateStory(context.Background(), TextRequest{Call: Call{Model: "llama3"}})
			kind, ok := KindOf(err)
			require.True(t, ok, "expected ProviderError, got %v", err)
			assert.Equal(t, tt.want, kind)
		})
	}
}
