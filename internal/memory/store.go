package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/jarvis/internal/embed"
	"github.com/ent0n29/jarvis/internal/reliability"
)

// StoreConfig tunes the durable write path.
type StoreConfig struct {
	RetryAttempts int           // bounded attempts per write before buffering
	RetryBase     time.Duration // first backoff step
	RetryCap      time.Duration // backoff ceiling
	EmbedTimeout  time.Duration // per-turn embedding budget
}

func (c *StoreConfig) defaults() {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 50 * time.Millisecond
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 500 * time.Millisecond
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 2 * time.Second
	}
}

// Store is the conversation memory exposed to the orchestrator. It wraps
// a Backend with the durability policy: bounded retries with backoff,
// an overflow buffer for writes that exhausted their retries (drained on
// the next Append or Flush, never dropped), per-session serialization of
// the write path, and best-effort retrieval that degrades to an empty
// result instead of failing the turn.
type Store struct {
	backend  Backend
	embedder embed.Embedder
	cfg      StoreConfig

	sessionMu sync.Mutex
	sessions  map[string]*sync.Mutex

	overflowMu sync.Mutex
	overflow   []Turn

	onEvent func(event string)

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration)
}

func NewStore(backend Backend, embedder embed.Embedder, cfg StoreConfig) *Store {
	cfg.defaults()
	return &Store{
		backend:  backend,
		embedder: embedder,
		cfg:      cfg,
		sessions: make(map[string]*sync.Mutex),
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// SetEventHook registers a callback for store events (retry, buffered,
// embed_failed, ...). Used by the app layer to feed metrics.
func (s *Store) SetEventHook(hook func(event string)) { s.onEvent = hook }

func (s *Store) event(name string) {
	if s.onEvent != nil {
		s.onEvent(name)
	}
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	mu, ok := s.sessions[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.sessions[sessionID] = mu
	}
	return mu
}

// Append persists one turn. The embedding is computed here, exactly once;
// if the embedder fails the turn is still logged, just not searchable.
// A write that exhausts its retries lands in the overflow buffer and is
// retried on the next Append or Flush, so Append never blocks the turn
// loop on a down store.
func (s *Store) Append(ctx context.Context, turn Turn) error {
	if turn.SessionID == "" {
		return fmt.Errorf("append turn: session id is empty")
	}
	if len(turn.Embedding) == 0 && s.embedder != nil && turn.Text != "" {
		embedCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		vec, err := s.embedder.Embed(embedCtx, turn.Text)
		cancel()
		if err != nil {
			s.event("embed_failed")
		} else {
			turn.Embedding = vec
		}
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	mu := s.sessionLock(turn.SessionID)
	mu.Lock()
	defer mu.Unlock()

	s.drainOverflow(ctx)

	// Turns still owed after a drain mean the backend is down; queue the
	// new turn behind them so log order survives the outage.
	if s.PendingWrites() > 0 {
		s.buffer(turn)
		return nil
	}

	if err := s.writeWithRetry(ctx, turn); err != nil {
		s.buffer(turn)
		return nil
	}
	return nil
}

// Query embeds the text and runs a session-scoped nearest-neighbor
// search. Retrieval is best-effort context, not authoritative: embedding
// failures, backend errors, and timeouts all degrade to an empty result.
func (s *Store) Query(ctx context.Context, sessionID, text string, topK int) []ScoredTurn {
	if s.embedder == nil || topK <= 0 {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.event("query_embed_failed")
		return nil
	}
	hits, err := s.backend.Search(ctx, sessionID, vec, topK)
	if err != nil {
		s.event("query_failed")
		return nil
	}
	return hits
}

// Recent returns the last turns of a session in chronological order.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	return s.backend.Recent(ctx, sessionID, limit)
}

// Flush drains the overflow buffer under the write path; when it returns
// nil every appended turn is durable. Called at session teardown and on
// the configured interval.
func (s *Store) Flush(ctx context.Context) error {
	s.drainOverflow(ctx)
	s.overflowMu.Lock()
	remaining := len(s.overflow)
	s.overflowMu.Unlock()
	if remaining > 0 {
		return fmt.Errorf("%w: %d turns still buffered after flush", ErrStorage, remaining)
	}
	return nil
}

// PendingWrites reports how many turns are waiting in the overflow buffer.
func (s *Store) PendingWrites() int {
	s.overflowMu.Lock()
	defer s.overflowMu.Unlock()
	return len(s.overflow)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flushErr := s.Flush(ctx)
	if err := s.backend.Close(); err != nil {
		return err
	}
	return flushErr
}

func (s *Store) buffer(turn Turn) {
	s.overflowMu.Lock()
	s.overflow = append(s.overflow, turn)
	s.overflowMu.Unlock()
	s.event("append_buffered")
}

func (s *Store) drainOverflow(ctx context.Context) {
	s.overflowMu.Lock()
	if len(s.overflow) == 0 {
		s.overflowMu.Unlock()
		return
	}
	pending := s.overflow
	s.overflow = nil
	s.overflowMu.Unlock()

	for i, turn := range pending {
		if err := s.writeWithRetry(ctx, turn); err != nil {
			// Put the rest back in order; they stay owed to the log.
			s.overflowMu.Lock()
			s.overflow = append(pending[i:], s.overflow...)
			s.overflowMu.Unlock()
			return
		}
		s.event("overflow_drained")
	}
}

func (s *Store) writeWithRetry(ctx context.Context, turn Turn) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			s.event("append_retry")
			s.sleep(ctx, reliability.ExponentialBackoff(attempt-1, s.cfg.RetryBase, s.cfg.RetryCap))
		}
		err := s.backend.AppendTurn(ctx, turn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !reliability.IsRetryableStorageError(err) {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrStorage, lastErr)
}
