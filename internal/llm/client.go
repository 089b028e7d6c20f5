package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/config"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

// ErrMissingAPIKey is returned when no key is configured for a provider.
var ErrMissingAPIKey = errors.New("missing API key")

// Client is the interface for LLM clients
type Client interface {
	// Generate returns the model's completion for prompt under systemPrompt.
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)

	// GetModelName returns the name of the model being used
	GetModelName() string
}

// Settings selects a provider, model and sampling parameters.
type Settings struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// Factory builds clients for tasks from the configured credentials.
type Factory struct {
	cfg config.LLMConfig
}

// NewFactory creates a factory over cfg.
func NewFactory(cfg config.LLMConfig) *Factory {
	return &Factory{cfg: cfg}
}

// ForTask returns a client for the task's provider, model and parameters.
func (f *Factory) ForTask(t *task.Task) (Client, error) {
	return NewClient(Settings{
		Provider:    t.LLMProvider,
		Model:       t.LLMModel,
		APIKey:      f.cfg.APIKey(t.LLMProvider),
		BaseURL:     f.cfg.BaseURL(t.LLMProvider),
		Temperature: t.Params.Temperature,
		MaxTokens:   t.Params.MaxTokens,
	})
}

// NewClient creates a client for s.Provider. All supported providers speak
// the OpenAI chat completions protocol at their own base URL.
func NewClient(s Settings) (Client, error) {
	provider := strings.ToLower(s.Provider)
	switch provider {
	case "groq", "openai", "claude":
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", s.Provider)
	}
	if s.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, provider)
	}
	if s.Model == "" {
		return nil, fmt.Errorf("no model selected for provider %s", provider)
	}
	return newChatClient(provider, s), nil
}
