package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/jarvis/internal/embed"
)

func newSQLiteForTest(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteAppendAndRecent(t *testing.T) {
	b := newSQLiteForTest(t)
	e := embed.NewLocalEmbedder(16)

	for i := 1; i <= 3; i++ {
		vec, err := e.Embed(context.Background(), "hello world")
		if err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
		turn := Turn{
			SessionID: "s1",
			TurnID:    uint64(i),
			Role:      RoleUser,
			Text:      "hello world",
			Embedding: vec,
			CreatedAt: time.Now().UTC(),
		}
		if err := b.AppendTurn(context.Background(), turn); err != nil {
			t.Fatalf("AppendTurn(%d) error = %v", i, err)
		}
	}

	turns, err := b.Recent(context.Background(), "s1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].TurnID != 2 || turns[1].TurnID != 3 {
		t.Fatalf("Recent() not chronological tail: %d, %d", turns[0].TurnID, turns[1].TurnID)
	}
	if len(turns[0].Embedding) != 16 {
		t.Fatalf("embedding round-trip lost data: dim = %d", len(turns[0].Embedding))
	}
}

func TestSQLiteAppendIdempotent(t *testing.T) {
	b := newSQLiteForTest(t)
	turn := Turn{SessionID: "s1", TurnID: 1, Role: RoleUser, Text: "once", CreatedAt: time.Now().UTC()}

	if err := b.AppendTurn(context.Background(), turn); err != nil {
		t.Fatalf("first AppendTurn() error = %v", err)
	}
	turn.Text = "twice"
	if err := b.AppendTurn(context.Background(), turn); err != nil {
		t.Fatalf("second AppendTurn() error = %v", err)
	}

	turns, _ := b.Recent(context.Background(), "s1", 10)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].Text != "once" {
		t.Fatalf("duplicate append overwrote the original turn: %q", turns[0].Text)
	}
}

func TestSQLiteSearch(t *testing.T) {
	b := newSQLiteForTest(t)
	e := embed.NewLocalEmbedder(32)

	texts := []string{"open the browser please", "what time is it", "play some music"}
	for i, text := range texts {
		vec, _ := e.Embed(context.Background(), text)
		turn := Turn{
			SessionID: "s1",
			TurnID:    uint64(i + 1),
			Role:      RoleUser,
			Text:      text,
			Embedding: vec,
			CreatedAt: time.Now().UTC(),
		}
		if err := b.AppendTurn(context.Background(), turn); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	query, _ := e.Embed(context.Background(), "open the browser please")
	hits, err := b.Search(context.Background(), "s1", query, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].Turn.Text != texts[0] {
		t.Fatalf("top hit = %q, want %q", hits[0].Turn.Text, texts[0])
	}
}

func TestSQLiteActionRecordRoundTrip(t *testing.T) {
	b := newSQLiteForTest(t)
	turn := Turn{
		SessionID: "s1",
		TurnID:    1,
		Role:      RoleAssistant,
		Text:      "Opening cursor.",
		Action: &ActionRecord{
			Name:   "open_app",
			Args:   map[string]any{"app": "cursor"},
			Status: ActionSucceeded,
			Result: "Opening cursor.",
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := b.AppendTurn(context.Background(), turn); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	turns, err := b.Recent(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	got := turns[0].Action
	if got == nil {
		t.Fatalf("action record lost in round trip")
	}
	if got.Name != "open_app" || got.Status != ActionSucceeded {
		t.Fatalf("unexpected action record: %+v", got)
	}
	if got.Args["app"] != "cursor" {
		t.Fatalf("args[app] = %v, want cursor", got.Args["app"])
	}
}
