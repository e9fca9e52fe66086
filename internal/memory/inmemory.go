package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/jarvis/internal/embed"
)

// InMemoryBackend is a simple in-process turn log for local/dev use.
// Search is a brute-force cosine scan over the session's turns.
type InMemoryBackend struct {
	mu    sync.RWMutex
	turns map[string][]Turn
	seen  map[string]map[uint64]struct{}
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		turns: make(map[string][]Turn),
		seen:  make(map[string]map[uint64]struct{}),
	}
}

func (b *InMemoryBackend) AppendTurn(_ context.Context, turn Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.seen[turn.SessionID]
	if ids == nil {
		ids = make(map[uint64]struct{})
		b.seen[turn.SessionID] = ids
	}
	if _, dup := ids[turn.TurnID]; dup {
		return nil
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	ids[turn.TurnID] = struct{}{}
	b.turns[turn.SessionID] = append(b.turns[turn.SessionID], turn)
	return nil
}

func (b *InMemoryBackend) Search(_ context.Context, sessionID string, embedding []float32, topK int) ([]ScoredTurn, error) {
	if topK <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	arr := b.turns[sessionID]
	out := make([]ScoredTurn, 0, len(arr))
	for _, turn := range arr {
		if len(turn.Embedding) == 0 {
			continue
		}
		out = append(out, ScoredTurn{Turn: turn, Score: embed.Cosine(embedding, turn.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Turn.TurnID > out[j].Turn.TurnID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (b *InMemoryBackend) Recent(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	arr := b.turns[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (b *InMemoryBackend) Close() error { return nil }
