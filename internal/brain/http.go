package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/reliability"
)

const serviceName = "completion service"

// HTTPCompleter calls an OpenAI-compatible chat completions endpoint. Plain
// JSON bodies carrying a top-level text field are accepted as well.
type HTTPCompleter struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewHTTPCompleter(cfg Config) *HTTPCompleter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPCompleter{
		url:    strings.TrimSpace(cfg.URL),
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *HTTPCompleter) Complete(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	all := make([]Message, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		all = append(all, Message{Role: "system", Content: systemPrompt})
	}
	all = append(all, messages...)

	payload, err := json.Marshal(chatRequest{Model: c.model, Messages: all, Temperature: 0.3})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperr.External(serviceName, true, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", apperr.External(serviceName, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("completion http status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", apperr.External(serviceName, true, fmt.Errorf("read response: %w", err))
	}
	text := extractReply(body)
	if text == "" {
		return "", apperr.External(serviceName, false, fmt.Errorf("completion response had no text"))
	}
	return text, nil
}

func extractReply(body []byte) string {
	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err == nil && len(chat.Choices) > 0 {
		if text := strings.TrimSpace(chat.Choices[0].Message.Content); text != "" {
			return text
		}
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, k := range []string{"text", "output", "message", "reply"} {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
