package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-agents/internal/config"
)

func sseServer(t *testing.T, lines ...string) (*httptest.Server, *openai.ChatCompletionRequest) {
	t.Helper()
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestParseFrame(t *testing.T) {
	f, ok := ParseFrame(`data: {"choices":[{"delta":{"content":"안녕"}}]}`)
	require.True(t, ok)
	assert.Equal(t, "안녕", f.Text)
	assert.Nil(t, f.Usage)

	f, ok = ParseFrame(`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	require.True(t, ok)
	require.NotNil(t, f.Usage)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 3}, *f.Usage)

	for _, raw := range []string{"", "data: [DONE]", "{not json", `{"choices":[{"delta":{}}]}`} {
		_, ok := ParseFrame(raw)
		assert.False(t, ok, raw)
	}
}

func TestClientStream_TextAndUsage(t *testing.T) {
	srv, got := sseServer(t,
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {garbage`,
		`: keep-alive comment`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2}}`,
		`data: [DONE]`,
	)

	c := NewClient("test", srv.URL, "k", "m-1")
	res, err := Collect(context.Background(), c, Request{SystemPrompt: "sys", UserContent: "hi", MaxTokens: 800, Temperature: 0.7}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, Usage{InputTokens: 7, OutputTokens: 2}, res.Usage)

	assert.Equal(t, "m-1", got.Model)
	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)
	assert.True(t, got.StreamOptions.IncludeUsage)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[1].Content)
}

func TestClientStream_FragmentOrder(t *testing.T) {
	srv, _ := sseServer(t,
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
		`data: {"choices":[{"delta":{"content":"c"}}]}`,
	)
	c := NewClient("test", srv.URL, "k", "m")

	var seen []string
	_, err := Collect(context.Background(), c, Request{UserContent: "x"}, func(f Frame) { seen = append(seen, f.Text) })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestClientStream_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, "k", "m")
	_, err := Collect(context.Background(), c, Request{UserContent: "x"}, nil)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.True(t, IsTransient(err))
}

func TestClientStream_MissingModel(t *testing.T) {
	c := NewClient("test", "http://127.0.0.1:1", "", "")
	_, err := Collect(context.Background(), c, Request{UserContent: "x"}, nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(&StatusError{Code: http.StatusBadRequest}))
	assert.False(t, IsTransient(&StatusError{Code: http.StatusUnauthorized}))
	assert.True(t, IsTransient(&StatusError{Code: http.StatusTooManyRequests}))
	assert.True(t, IsTransient(fmt.Errorf("read: %w", io.ErrUnexpectedEOF)))
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry(config.Config{
		OpenAIAPIKey:      "k",
		OpenAIModel:       "gpt-4o-mini",
		OllamaBaseURL:     "http://localhost:11434/v1",
		OllamaModel:       "llama3:latest",
		OpenRouterSiteURL: "https://example.test",
	})

	c, err := reg.Get(context.Background(), "OpenAI", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.(*Client).Model)

	c, err = reg.Get(context.Background(), "ollama", "qwen2")
	require.NoError(t, err)
	assert.Equal(t, "qwen2", c.(*Client).Model)

	_, err = reg.Get(context.Background(), "openrouter", "")
	assert.Error(t, err)

	_, err = reg.Get(context.Background(), "nope", "")
	assert.Error(t, err)
}
