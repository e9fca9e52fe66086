package memory

import (
	"context"
	"strings"

	"github.com/ent0n29/jarvis/internal/embed"
)

// BackendConfig selects the persistence medium.
type BackendConfig struct {
	DatabaseURL  string // postgres when set
	SQLitePath   string // sqlite when set and no postgres URL
	EmbeddingDim int
}

// NewBackend creates a postgres-backed log when configured, then sqlite,
// otherwise in-memory.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return NewPostgresBackend(ctx, cfg.DatabaseURL, cfg.EmbeddingDim)
	}
	if strings.TrimSpace(cfg.SQLitePath) != "" {
		return NewSQLiteBackend(ctx, cfg.SQLitePath)
	}
	return NewInMemoryBackend(), nil
}

// Open wires a backend and the injected embedder into a durable Store.
func Open(ctx context.Context, cfg BackendConfig, embedder embed.Embedder, storeCfg StoreConfig) (*Store, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, embedder, storeCfg), nil
}
