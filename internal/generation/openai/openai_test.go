package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_SendsPromptAsUserMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":0,"model":"gpt-3.5-turbo",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Paris \n"}}]}`))
	}))
	defer srv.Close()
	t.Setenv("TEST_OPENAI_KEY", "test-key")

	g, err := New(Config{BaseURL: srv.URL + "/v1", APIKeyEnv: "TEST_OPENAI_KEY"})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-3.5-turbo", g.Name())

	out, err := g.Generate(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)

	assert.Equal(t, "gpt-3.5-turbo", got["model"])
	assert.EqualValues(t, 0, got["temperature"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "What is the capital of France?", msg["content"])
}

func TestGenerate_ServiceError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()
	t.Setenv("TEST_OPENAI_KEY", "test-key")

	g, err := New(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_OPENAI_KEY"})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "the client itself never retries")
}

func TestNew_RequiresKey(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "")
	_, err := New(Config{APIKeyEnv: "TEST_OPENAI_KEY"})
	assert.Error(t, err)
}
