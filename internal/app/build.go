// Package app wires configuration into a runnable service graph.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/jarvis/internal/actions"
	"github.com/ent0n29/jarvis/internal/brain"
	"github.com/ent0n29/jarvis/internal/config"
	"github.com/ent0n29/jarvis/internal/embed"
	"github.com/ent0n29/jarvis/internal/httpapi"
	"github.com/ent0n29/jarvis/internal/memory"
	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/orchestrator"
	"github.com/ent0n29/jarvis/internal/session"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator
	Store        *memory.Store
	Metrics      *observability.Metrics
	Stages       *observability.TurnStageWindow

	// Cleanup should be called on shutdown to release external
	// resources (DB handles, buffered writes).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewTurnStageWindow(256)

	embedder, err := embed.New(embed.Config{
		Provider: cfg.EmbedProvider,
		APIKey:   cfg.EmbedAPIKey,
		BaseURL:  cfg.EmbedBaseURL,
		Model:    cfg.EmbedModel,
		Dim:      cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}

	store, err := memory.Open(ctx, memory.BackendConfig{
		DatabaseURL:  cfg.DatabaseURL,
		SQLitePath:   cfg.SQLitePath,
		EmbeddingDim: cfg.EmbeddingDim,
	}, embedder, memory.StoreConfig{})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	store.SetEventHook(func(event string) {
		metrics.MemoryEvents.WithLabelValues(event).Inc()
	})

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:      cfg.ModelAdapterMode,
		APIKey:    cfg.ModelAPIKey,
		BaseURL:   cfg.ModelBaseURL,
		Model:     cfg.ModelName,
		MaxTokens: cfg.ModelMaxTokens,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("model adapter init failed: %w", err)
	}

	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("action registry init failed: %w", err)
	}
	registry.Freeze()

	sessions := session.NewManager(cfg.SessionInactivityTimeout, cfg.ShortTermBufferSize)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		// Expiry is a flush boundary like an explicit session end.
		go func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := store.Flush(flushCtx); err != nil {
				metrics.MemoryEvents.WithLabelValues("expire_flush_failed").Inc()
			}
		}()
	})

	orch := orchestrator.New(store, sessions, adapter, registry, orchestrator.Config{
		ModelTimeout:       cfg.ModelTimeout,
		MemoryQueryTimeout: cfg.MemoryQueryTimeout,
		MemoryTopK:         cfg.MemoryTopK,
		PromptBudgetRunes:  cfg.PromptBudgetRunes,
	})
	orch.SetMetrics(metrics)
	orch.SetStageWindow(stages)

	api := httpapi.New(cfg, sessions, orch, metrics, stages)

	cleanup := func() error {
		var errs []string
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := orch.Drain(drainCtx); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orch,
		Store:        store,
		Metrics:      metrics,
		Stages:       stages,
		Cleanup:      cleanup,
	}, nil
}
