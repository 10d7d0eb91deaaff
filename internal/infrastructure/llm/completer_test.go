package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegScanner/internal/config"
	"RegScanner/internal/ports"
)

func TestChatGPTCompleterSendsSystemAndUser(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"relevant\": true}"}}]}`))
	}))
	defer srv.Close()

	c, err := NewChatGPTCompleter(config.LLMConfig{APIKey: "sk-test", Model: "gpt-4o-mini", Endpoint: srv.URL + "/", MaxTokens: 300})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), ports.Completion{System: "be terse", User: "Title: x"})
	require.NoError(t, err)
	assert.Equal(t, `{"relevant": true}`, out)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 300, body["max_completion_tokens"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestAnthropicCompleterReturnsFirstBlock(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022",
			"content":[{"type":"text","text":"- bullet"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":10,"output_tokens":3}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicCompleter(config.LLMConfig{APIKey: "key", Model: "claude-3-5-sonnet-20241022", Endpoint: srv.URL + "/"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), ports.Completion{System: "sys", User: "usr", MaxTokens: 200})
	require.NoError(t, err)
	assert.Equal(t, "- bullet", out)
	assert.EqualValues(t, 200, body["max_tokens"])
}

func TestNewCompleterRejectsMissingKey(t *testing.T) {
	_, err := NewCompleter(config.LLMConfig{Provider: config.ProviderAnthropic, Model: "m"})
	assert.Error(t, err)

	_, err = NewCompleter(config.LLMConfig{Provider: "bard", APIKey: "k", Model: "m"})
	assert.Error(t, err)
}

func TestMaxTokensFallback(t *testing.T) {
	assert.Equal(t, 100, maxTokens(100, 500))
	assert.Equal(t, 500, maxTokens(0, 500))
	assert.Equal(t, "You are a compliance analyst. Answer with JSON only.", safePrompt("  "))
}
