package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	var gotBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": [{"message": {"content": "a summary"}}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{
		Endpoint: server.URL,
		APIKey:   "secret",
		Model:    "test-model",
	})

	out, err := client.Run(context.Background(), "Summarize this.", "the PR body")
	require.NoError(t, err)
	assert.Equal(t, "a summary", out)

	assert.Equal(t, "test-model", gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "Summarize this.\n\nthe PR body", gotBody.Messages[0].Content)
}

func TestRunServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, Model: "test-model"})

	_, err := client.Run(context.Background(), "prompt", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestRunNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, Model: "test-model"})

	_, err := client.Run(context.Background(), "prompt", "")
	assert.Error(t, err)
}
