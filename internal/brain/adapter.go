// Package brain bridges the conversation loop to a language model.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one role-tagged block of the model request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the normalized request sent to the model.
type Request struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Messages  []Message `json:"messages"`
}

// Response is the model's complete reply for one turn.
type Response struct {
	Text string `json:"text"`
}

// ErrModel marks a model-side failure. Callers treat it as
// per-turn and recoverable.
var ErrModel = errors.New("model error")

// Adapter produces one complete reply per request. Implementations
// must honor ctx cancellation and deadlines.
type Adapter interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("model API key is required for openai mode")
		}
		return NewOpenAIAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	if strings.TrimSpace(cfg.APIKey) != "" {
		// Keep the mock behind the real adapter so a bad key or a
		// provider outage degrades instead of killing the turn loop.
		return NewFallbackAdapter(NewOpenAIAdapter(cfg), NewMockAdapter())
	}
	return NewMockAdapter()
}
