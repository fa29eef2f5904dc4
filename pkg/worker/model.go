package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// ChatClient captures the subset of the go-openai client the worker uses.
// Tests substitute a stub; production wires openai.NewClientWithConfig.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// ModelCaller invokes the chat-completion endpoint with bounded retries
// and exponential backoff on transient failures.
type ModelCaller struct {
	chat        ChatClient
	maxAttempts int
	callTimeout time.Duration
}

// NewModelCaller builds a caller. maxAttempts counts the first try;
// callTimeout bounds each individual attempt.
func NewModelCaller(chat ChatClient, maxAttempts int, callTimeout time.Duration) *ModelCaller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ModelCaller{chat: chat, maxAttempts: maxAttempts, callTimeout: callTimeout}
}

// NewChatClient constructs the production go-openai client against an
// OpenAI-compatible endpoint.
func NewChatClient(apiKey, baseURL string) ChatClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// Complete runs one prompt through the model. Latency covers the whole
// call including retries, which is what the AAR reports.
func (m *ModelCaller) Complete(ctx context.Context, cfg models.ModelConfig, system, prompt string) (*models.ModelOutput, error) {
	messages := []openai.ChatCompletionMessage{}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	request := openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	start := time.Now()
	var response openai.ChatCompletionResponse

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		defer cancel()

		resp, err := m.chat.CreateChatCompletion(callCtx, request)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			slog.Warn("Model call attempt failed", "model", cfg.Model, "error", err)
			return err
		}
		response = resp
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("model call failed after %d attempts: %w", m.maxAttempts, err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("model %s returned no choices", cfg.Model)
	}

	return &models.ModelOutput{
		Text: response.Choices[0].Message.Content,
		Usage: models.TokenUsage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}
