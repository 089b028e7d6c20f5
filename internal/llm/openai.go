package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient implements the Client interface over an OpenAI-compatible
// chat completions endpoint.
type ChatClient struct {
	client      *openai.Client
	provider    string
	model       string
	temperature float32
	maxTokens   int
}

func newChatClient(provider string, s Settings) *ChatClient {
	config := openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		config.BaseURL = s.BaseURL
	}

	return &ChatClient{
		client:      openai.NewClientWithConfig(config),
		provider:    provider,
		model:       s.Model,
		temperature: float32(s.Temperature),
		maxTokens:   s.MaxTokens,
	}
}

// GetModelName returns the provider-qualified model name
func (c *ChatClient) GetModelName() string {
	return c.provider + "/" + c.model
}

// Generate sends one system and one user message and returns the reply text.
func (c *ChatClient) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		},
	)

	if err != nil {
		return "", fmt.Errorf("failed to call %s API: %w", c.provider, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s API", c.provider)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty response from %s API", c.provider)
	}
	return content, nil
}
