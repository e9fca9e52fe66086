package memory

import (
	"context"
	"errors"
	"time"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ActionStatus is the terminal outcome of a dispatched action.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped"
)

// ActionRecord captures the single action attempted during a turn.
// It exists only when the dispatcher matched a known action.
type ActionRecord struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Status ActionStatus   `json:"status"`
	Result string         `json:"result,omitempty"`
}

// Turn is one immutable entry in the append-only conversation log.
// TurnID is assigned by the session and strictly increases within it.
// Embedding is computed exactly once at append time and may stay nil
// when the embedder was unavailable; such turns are logged but not
// similarity-searchable.
type Turn struct {
	SessionID string        `json:"session_id"`
	TurnID    uint64        `json:"turn_id"`
	Role      Role          `json:"role"`
	Text      string        `json:"text"`
	Embedding []float32     `json:"embedding,omitempty"`
	Action    *ActionRecord `json:"action,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// ScoredTurn is a retrieval hit; Score is cosine similarity in [0,1]-ish.
type ScoredTurn struct {
	Turn  Turn
	Score float64
}

// ErrStorage marks persistence-medium failures. Callers classify with
// errors.Is and retry per policy; the error is never surfaced raw to the
// conversation.
var ErrStorage = errors.New("memory storage unavailable")

// Backend is the raw persistence contract. Implementations must make
// AppendTurn idempotent on (SessionID, TurnID) and restrict Search to a
// single session, ordered by descending similarity with ties broken by
// the more recent turn id.
type Backend interface {
	AppendTurn(ctx context.Context, turn Turn) error
	Search(ctx context.Context, sessionID string, embedding []float32, topK int) ([]ScoredTurn, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Close() error
}
