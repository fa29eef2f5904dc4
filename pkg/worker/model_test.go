package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// stubChat scripts ChatClient responses for the caller tests.
type stubChat struct {
	calls     int
	failUntil int
	reply     string
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	if s.calls <= s.failUntil {
		return openai.ChatCompletionResponse{}, errors.New("upstream unavailable")
	}
	return openai.ChatCompletionResponse{
		Model: req.Model,
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: s.reply}},
		},
		Usage: openai.Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
	}, nil
}

func testModelConfig() models.ModelConfig {
	return models.ModelConfig{
		ProfileName: "executor_default",
		Model:       "gpt-test",
		Temperature: 0.2,
		MaxTokens:   100,
	}
}

func TestModelCallerSuccess(t *testing.T) {
	chat := &stubChat{reply: "IronClaw"}
	caller := NewModelCaller(chat, 3, time.Second)

	out, err := caller.Complete(context.Background(), testModelConfig(), "", "Say 'IronClaw'")
	require.NoError(t, err)
	assert.Equal(t, "IronClaw", out.Text)
	assert.Equal(t, 12, out.Usage.TotalTokens)
	assert.Equal(t, 1, chat.calls)
	assert.NotEmpty(t, out.Timestamp)
}

func TestModelCallerRetriesTransientFailures(t *testing.T) {
	chat := &stubChat{reply: "ok", failUntil: 2}
	caller := NewModelCaller(chat, 3, time.Second)

	out, err := caller.Complete(context.Background(), testModelConfig(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, 3, chat.calls)
}

func TestModelCallerExhaustsRetries(t *testing.T) {
	chat := &stubChat{failUntil: 10}
	caller := NewModelCaller(chat, 2, time.Second)

	_, err := caller.Complete(context.Background(), testModelConfig(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, chat.calls)
}

// A reply with zero choices is a failure, not an empty answer.
func TestModelCallerNoChoices(t *testing.T) {
	caller := NewModelCaller(emptyChat{}, 1, time.Second)

	_, err := caller.Complete(context.Background(), testModelConfig(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

type emptyChat struct{}

func (emptyChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}

// TestChatClientAgainstCompatibleEndpoint drives the production client
// against a local OpenAI-compatible chat-completions endpoint.
func TestChatClientAgainstCompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-test",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "echo: hi"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"prompt_tokens": 2, "completion_tokens": 3, "total_tokens": 5},
		})
	}))
	defer srv.Close()

	chat := NewChatClient("sk-test", srv.URL)
	caller := NewModelCaller(chat, 1, 5*time.Second)

	out, err := caller.Complete(context.Background(), testModelConfig(), "system prompt", "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out.Text)
	assert.Equal(t, 5, out.Usage.TotalTokens)
}
