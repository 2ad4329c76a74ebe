package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/internal/chat"
	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/internal/tools"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestNewClient_DefaultsFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "text", "text": "hello from claude"}],
			"model": "claude-3-5-haiku-20241022",
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{APIKey: "sk-ant-test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	assistant, toolCalls, err := c.Complete(context.Background(), []execcontext.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	}, chat.CompletionParams{Model: "claude-3-5-haiku-20241022"})

	require.NoError(t, err)
	assert.Empty(t, toolCalls)
	assert.Equal(t, "assistant", assistant.Role)
	assert.Equal(t, "hello from claude", assistant.Content)
}

func TestComplete_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tools, _ := body["tools"].([]interface{})
		assert.Len(t, tools, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_2",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "tool_use", "id": "toolu_1", "name": "search", "input": {"query": "go"}}],
			"model": "claude-3-5-haiku-20241022",
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{APIKey: "sk-ant-test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, toolCalls, err := c.Complete(context.Background(), []execcontext.Message{
		{Role: "user", Content: "search for go"},
	}, chat.CompletionParams{
		Model: "claude-3-5-haiku-20241022",
		Tools: []tools.Tool{{Name: "search", Description: "search the web"}},
	})

	require.NoError(t, err)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "search", toolCalls[0].Name)
	assert.Equal(t, "toolu_1", toolCalls[0].ID)
}
