package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer returns an OpenAI-compatible endpoint that answers every chat
// completion with content.
func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteJSON(t *testing.T) {
	srv := chatServer(t, "```json\n{\"answer\": 42}\n```")
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	var out struct {
		Answer int `json:"answer"`
	}
	require.NoError(t, client.CompleteJSON(context.Background(), "system", "user", &out))
	assert.Equal(t, 42, out.Answer)
}

func TestCompleteJSON_Malformed(t *testing.T) {
	srv := chatServer(t, "I am not JSON")
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	var out map[string]any
	err = client.CompleteJSON(context.Background(), "system", "user", &out)
	assert.ErrorContains(t, err, "failed to decode model answer")
}

func TestNewClient_RequiresKeyAndModel(t *testing.T) {
	_, err := NewClient(Config{Model: "m"})
	assert.Error(t, err)
	_, err = NewClient(Config{APIKey: "k"})
	assert.Error(t, err)
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(`  {"a":1} `))
}
