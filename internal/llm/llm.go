// Package llm is the assistant client. It talks to any OpenAI-compatible chat
// completion API, such as DeepSeek.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/questionbank/internal/llm/prompts"
	"github.com/pavelanni/questionbank/internal/model"
)

// ErrEmptyMessage is returned when the chat message is blank.
var ErrEmptyMessage = errors.New("empty message")

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client. It returns nil when apiKey is empty, which
// callers treat as "assistant not configured".
func New(baseURL, apiKey, modelName string) *Client {
	if apiKey == "" {
		return nil
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

// Chat sends a single user message and returns the assistant reply.
// modelName overrides the default model when not empty.
func (c *Client) Chat(ctx context.Context, message, modelName string) (string, error) {
	message = prompts.Sanitize(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	if modelName == "" {
		modelName = c.model
	}
	return c.complete(ctx, modelName, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: message},
	}, 0.7)
}

// ExplainQuestion asks the model for a short explanation of a question and its
// correct answer, suitable as the question's analysis.
func (c *Client) ExplainQuestion(ctx context.Context, q model.Question) (string, error) {
	system, err := prompts.Explain(q)
	if err != nil {
		return "", err
	}
	return c.complete(ctx, c.model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: "Explain this question."},
	}, 0.3)
}

func (c *Client) complete(ctx context.Context, modelName string, msgs []openai.ChatCompletionMessage, temperature float32) (string, error) {
	slog.Debug("sending chat completion", "model", modelName, "messages", len(msgs))
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    msgs,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "model", modelName, "length", len(reply))
	return reply, nil
}
