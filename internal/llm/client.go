package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/hodie/internal/config"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// TokenCounter estimates the token cost of a message sequence.
type TokenCounter interface {
	CountTokens(messages []Message) int
}

// NewClient builds the client selected by cfg.Provider.
func NewClient(cfg config.ModelConfig, logger *slog.Logger) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		c := NewAnthropicClient(cfg.APIKey, logger)
		c.maxTokens = cfg.MaxTokens
		c.temperature = cfg.Temperature
		if cfg.BaseURL != "" {
			c.apiURL = strings.TrimRight(cfg.BaseURL, "/") + "/v1/messages"
		}
		return c, nil
	case "openai":
		return NewOpenAIClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
