// Package brain is the text-completion collaborator: it turns a conversation
// and a system prompt into reply text.
package brain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Completer interface {
	Complete(ctx context.Context, messages []Message, systemPrompt string) (string, error)
}

// Config controls completer construction.
type Config struct {
	Provider string
	URL      string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewCompleter picks a completer. "auto" uses the HTTP endpoint when a URL is
// configured and the local mock otherwise.
func NewCompleter(cfg Config) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPCompleter(cfg), nil
		}
		return NewMockCompleter(), nil
	case "http", "openai":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("completion url is required for %s provider", provider)
		}
		return NewHTTPCompleter(cfg), nil
	case "mock":
		return NewMockCompleter(), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}
