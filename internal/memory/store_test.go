package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/jarvis/internal/embed"
)

type flakyBackend struct {
	mu       sync.Mutex
	inner    *InMemoryBackend
	failures int
	appends  int
}

func (b *flakyBackend) AppendTurn(ctx context.Context, t Turn) error {
	b.mu.Lock()
	b.appends++
	fail := b.failures > 0
	if fail {
		b.failures--
	}
	b.mu.Unlock()
	if fail {
		return errors.New("write failed")
	}
	return b.inner.AppendTurn(ctx, t)
}

func (b *flakyBackend) Search(ctx context.Context, sessionID string, embedding []float32, topK int) ([]ScoredTurn, error) {
	return b.inner.Search(ctx, sessionID, embedding, topK)
}

func (b *flakyBackend) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	return b.inner.Recent(ctx, sessionID, limit)
}

func (b *flakyBackend) Close() error { return b.inner.Close() }

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedder down")
}

func (brokenEmbedder) Dim() int { return 8 }

func newQuietStore(backend Backend, embedder embed.Embedder) *Store {
	s := NewStore(backend, embedder, StoreConfig{
		RetryAttempts: 3,
		RetryBase:     time.Millisecond,
		RetryCap:      time.Millisecond,
	})
	s.sleep = func(ctx context.Context, d time.Duration) {}
	return s
}

func TestStoreAppendAndRecent(t *testing.T) {
	s := newQuietStore(NewInMemoryBackend(), embed.NewLocalEmbedder(16))

	for i := 1; i <= 3; i++ {
		err := s.Append(context.Background(), Turn{
			SessionID: "s1",
			TurnID:    uint64(i),
			Role:      RoleUser,
			Text:      fmt.Sprintf("turn %d", i),
		})
		if err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	turns, err := s.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	for i, turn := range turns {
		if turn.TurnID != uint64(i+1) {
			t.Fatalf("turns[%d].TurnID = %d, want %d", i, turn.TurnID, i+1)
		}
		if len(turn.Embedding) == 0 {
			t.Fatalf("turns[%d] has no embedding", i)
		}
	}
}

func TestStoreAppendIdempotent(t *testing.T) {
	s := newQuietStore(NewInMemoryBackend(), embed.NewLocalEmbedder(16))
	turn := Turn{SessionID: "s1", TurnID: 1, Role: RoleUser, Text: "hello"}

	if err := s.Append(context.Background(), turn); err != nil {
		t.Fatalf("first Append() error = %v", err)
	}
	if err := s.Append(context.Background(), turn); err != nil {
		t.Fatalf("second Append() error = %v", err)
	}

	turns, _ := s.Recent(context.Background(), "s1", 10)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1 after duplicate append", len(turns))
	}
}

func TestStoreRetriesTransientFailures(t *testing.T) {
	backend := &flakyBackend{inner: NewInMemoryBackend(), failures: 2}
	s := newQuietStore(backend, embed.NewLocalEmbedder(16))

	if err := s.Append(context.Background(), Turn{SessionID: "s1", TurnID: 1, Text: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if s.PendingWrites() != 0 {
		t.Fatalf("PendingWrites() = %d, want 0", s.PendingWrites())
	}
	if backend.appends != 3 {
		t.Fatalf("backend.appends = %d, want 3", backend.appends)
	}
}

func TestStoreBuffersExhaustedWritesAndDrains(t *testing.T) {
	backend := &flakyBackend{inner: NewInMemoryBackend(), failures: 10}
	s := newQuietStore(backend, embed.NewLocalEmbedder(16))

	// All retries fail; the turn must land in the overflow buffer and
	// Append must still report success to the caller.
	if err := s.Append(context.Background(), Turn{SessionID: "s1", TurnID: 1, Text: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if s.PendingWrites() != 1 {
		t.Fatalf("PendingWrites() = %d, want 1", s.PendingWrites())
	}

	if err := s.Flush(context.Background()); err == nil {
		t.Fatalf("Flush() should fail while the backend is down")
	}

	backend.mu.Lock()
	backend.failures = 0
	backend.mu.Unlock()

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v after recovery", err)
	}
	if s.PendingWrites() != 0 {
		t.Fatalf("PendingWrites() = %d, want 0 after flush", s.PendingWrites())
	}

	turns, _ := s.Recent(context.Background(), "s1", 10)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1 after drain", len(turns))
	}
}

func TestStoreOverflowPreservesOrder(t *testing.T) {
	backend := &flakyBackend{inner: NewInMemoryBackend(), failures: 6}
	s := newQuietStore(backend, embed.NewLocalEmbedder(16))

	for i := 1; i <= 2; i++ {
		_ = s.Append(context.Background(), Turn{SessionID: "s1", TurnID: uint64(i), Text: fmt.Sprintf("turn %d", i)})
	}
	if s.PendingWrites() != 2 {
		t.Fatalf("PendingWrites() = %d, want 2", s.PendingWrites())
	}

	backend.mu.Lock()
	backend.failures = 0
	backend.mu.Unlock()

	// The next append drains the buffer first, keeping log order.
	_ = s.Append(context.Background(), Turn{SessionID: "s1", TurnID: 3, Text: "turn 3"})

	turns, _ := s.Recent(context.Background(), "s1", 10)
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	for i, turn := range turns {
		if turn.TurnID != uint64(i+1) {
			t.Fatalf("turns[%d].TurnID = %d, want %d", i, turn.TurnID, i+1)
		}
	}
}

func TestStoreAppendSurvivesEmbedderFailure(t *testing.T) {
	s := newQuietStore(NewInMemoryBackend(), brokenEmbedder{})

	var events []string
	s.SetEventHook(func(event string) { events = append(events, event) })

	if err := s.Append(context.Background(), Turn{SessionID: "s1", TurnID: 1, Text: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	turns, _ := s.Recent(context.Background(), "s1", 10)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if len(turns[0].Embedding) != 0 {
		t.Fatalf("embedding should be empty when the embedder fails")
	}

	var sawEmbedFailed bool
	for _, e := range events {
		if e == "embed_failed" {
			sawEmbedFailed = true
		}
	}
	if !sawEmbedFailed {
		t.Fatalf("embed_failed event not emitted: %v", events)
	}
}

func TestStoreQueryFindsSimilarTurns(t *testing.T) {
	s := newQuietStore(NewInMemoryBackend(), embed.NewLocalEmbedder(64))

	texts := []string{
		"my favorite editor is cursor",
		"the weather is sunny today",
		"remind me to buy milk",
	}
	for i, text := range texts {
		if err := s.Append(context.Background(), Turn{SessionID: "s1", TurnID: uint64(i + 1), Role: RoleUser, Text: text}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	hits := s.Query(context.Background(), "s1", "my favorite editor is cursor", 2)
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].Turn.Text != texts[0] {
		t.Fatalf("top hit = %q, want %q", hits[0].Turn.Text, texts[0])
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("hits not sorted by score: %v then %v", hits[0].Score, hits[1].Score)
	}
}

func TestStoreQueryDegradesToEmpty(t *testing.T) {
	s := newQuietStore(NewInMemoryBackend(), brokenEmbedder{})
	if hits := s.Query(context.Background(), "s1", "anything", 3); hits != nil {
		t.Fatalf("Query() = %v, want nil on embedder failure", hits)
	}

	failing := &flakyBackend{inner: NewInMemoryBackend(), failures: 0}
	s2 := newQuietStore(failing, embed.NewLocalEmbedder(16))
	if hits := s2.Query(context.Background(), "missing-session", "anything", 3); len(hits) != 0 {
		t.Fatalf("Query() = %v, want empty for unknown session", hits)
	}
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1, 0.0078125}
	got := parseVectorLiteral(vectorLiteral(vec))
	if len(got) != len(vec) {
		t.Fatalf("len = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], vec[i])
		}
	}
	if parseVectorLiteral("not a vector") != nil {
		t.Fatalf("malformed literal should parse to nil")
	}
}

func TestStoreQueryIsolatesSessions(t *testing.T) {
	s := newQuietStore(NewInMemoryBackend(), embed.NewLocalEmbedder(32))

	_ = s.Append(context.Background(), Turn{SessionID: "s1", TurnID: 1, Text: "session one secret"})
	_ = s.Append(context.Background(), Turn{SessionID: "s2", TurnID: 1, Text: "session two secret"})

	hits := s.Query(context.Background(), "s1", "secret", 10)
	for _, h := range hits {
		if h.Turn.SessionID != "s1" {
			t.Fatalf("query leaked turn from session %q", h.Turn.SessionID)
		}
	}
}
