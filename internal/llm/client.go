// Package llm is a thin chat-completion client shared by the judges and the
// planner. It speaks the OpenAI API, so any compatible endpoint works.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the connection settings for a chat model.
type Config struct {
	APIKey  string
	BaseURL string // Optional: for Azure or compatible APIs
	Model   string
}

// Client sends prompts to a chat model and decodes JSON answers.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a new Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key not provided")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model not provided")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// CompleteJSON sends a system and user prompt and decodes the answer into out.
// An answer that is not a JSON object is an error.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, out any) error {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("chat completion returned no choices")
	}

	content := stripFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to decode model answer: %w", err)
	}
	return nil
}

// stripFence removes a surrounding markdown code fence, which some models add
// even when asked for bare JSON.
func stripFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
