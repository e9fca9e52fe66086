package embed

import (
	"fmt"
	"strings"
)

// Config controls embedder construction.
type Config struct {
	Provider string // auto|openai|local
	APIKey   string
	BaseURL  string
	Model    string
	Dim      int
}

// New resolves an embedder from config. "auto" prefers the OpenAI
// embedder when a key is present and falls back to the local one.
func New(cfg Config) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dim)
	case "local":
		return NewLocalEmbedder(cfg.Dim), nil
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			if e, err := NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dim); err == nil {
				return e, nil
			}
		}
		return NewLocalEmbedder(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("unsupported embed provider %q", cfg.Provider)
	}
}
