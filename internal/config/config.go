package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ShortTermBufferSize int
	PromptBudgetRunes   int

	ModelAdapterMode string
	ModelAPIKey      string
	ModelBaseURL     string
	ModelName        string
	ModelTimeout     time.Duration
	ModelMaxTokens   int

	EmbedProvider string
	EmbedAPIKey   string
	EmbedBaseURL  string
	EmbedModel    string
	EmbeddingDim  int

	DatabaseURL        string
	SQLitePath         string
	MemoryQueryTimeout time.Duration
	MemoryTopK         int
	MemoryFlushPeriod  time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "jarvis"),
		AllowAnyOrigin:   false,

		ShortTermBufferSize: 6,
		PromptBudgetRunes:   6000,

		ModelAdapterMode: envOrDefault("MODEL_ADAPTER_MODE", "auto"),
		ModelAPIKey:      stringsTrimSpace("OPENAI_API_KEY"),
		ModelBaseURL:     stringsTrimSpace("MODEL_BASE_URL"),
		ModelName:        stringsTrimSpace("MODEL_NAME"),
		ModelTimeout:     8 * time.Second,
		ModelMaxTokens:   0,

		EmbedProvider: envOrDefault("EMBED_PROVIDER", "auto"),
		EmbedAPIKey:   stringsTrimSpace("OPENAI_API_KEY"),
		EmbedBaseURL:  stringsTrimSpace("EMBED_BASE_URL"),
		EmbedModel:    stringsTrimSpace("EMBED_MODEL"),
		EmbeddingDim:  1536,

		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		SQLitePath:         stringsTrimSpace("MEMORY_SQLITE_PATH"),
		MemoryQueryTimeout: 300 * time.Millisecond,
		MemoryTopK:         4,
		MemoryFlushPeriod:  30 * time.Second,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTimeout, err = durationFromEnv("MODEL_TIMEOUT", cfg.ModelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelMaxTokens, err = intFromEnv("MODEL_MAX_TOKENS", cfg.ModelMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryQueryTimeout, err = durationFromEnv("MEMORY_QUERY_TIMEOUT", cfg.MemoryQueryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryFlushPeriod, err = durationFromEnv("MEMORY_FLUSH_PERIOD", cfg.MemoryFlushPeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryTopK, err = intFromEnv("MEMORY_TOP_K", cfg.MemoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("MEMORY_EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.ShortTermBufferSize, err = intFromEnv("APP_SHORT_TERM_BUFFER", cfg.ShortTermBufferSize)
	if err != nil {
		return Config{}, err
	}
	cfg.PromptBudgetRunes, err = intFromEnv("APP_PROMPT_BUDGET_RUNES", cfg.PromptBudgetRunes)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ModelTimeout < 100*time.Millisecond {
		return Config{}, fmt.Errorf("MODEL_TIMEOUT must be at least 100ms")
	}
	if cfg.MemoryQueryTimeout <= 0 {
		return Config{}, fmt.Errorf("MEMORY_QUERY_TIMEOUT must be positive")
	}
	if cfg.MemoryTopK <= 0 {
		return Config{}, fmt.Errorf("MEMORY_TOP_K must be positive")
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if cfg.ShortTermBufferSize <= 0 {
		return Config{}, fmt.Errorf("APP_SHORT_TERM_BUFFER must be positive")
	}
	if cfg.MemoryFlushPeriod <= 0 {
		return Config{}, fmt.Errorf("MEMORY_FLUSH_PERIOD must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
