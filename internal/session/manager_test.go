package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ent0n29/jarvis/internal/memory"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute, 3)
	s := m.Create("u1")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestManagerTurnIDsMonotonic(t *testing.T) {
	m := NewManager(time.Minute, 3)
	s := m.Create("u1")

	for want := uint64(1); want <= 4; want++ {
		id, err := m.BeginTurn(s.ID)
		if err != nil {
			t.Fatalf("BeginTurn() error = %v", err)
		}
		if id != want {
			t.Fatalf("turn id = %d, want %d", id, want)
		}
		if err := m.FinishTurn(s.ID, id); err != nil {
			t.Fatalf("FinishTurn() error = %v", err)
		}
	}

	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.BeginTurn(s.ID); err != ErrEnded {
		t.Fatalf("BeginTurn() after End error = %v, want ErrEnded", err)
	}
}

func TestManagerBufferKeepsNewestTurns(t *testing.T) {
	m := NewManager(time.Minute, 3)
	s := m.Create("u1")

	for i := 1; i <= 5; i++ {
		err := m.RecordTurn(s.ID, memory.Turn{
			SessionID: s.ID,
			TurnID:    uint64(i),
			Role:      memory.RoleUser,
			Text:      fmt.Sprintf("turn %d", i),
		})
		if err != nil {
			t.Fatalf("RecordTurn(%d) error = %v", i, err)
		}
	}

	buf, err := m.Buffer(s.ID)
	if err != nil {
		t.Fatalf("Buffer() error = %v", err)
	}
	if len(buf) != 3 {
		t.Fatalf("len(buffer) = %d, want 3", len(buf))
	}
	for i, want := range []uint64{3, 4, 5} {
		if buf[i].TurnID != want {
			t.Fatalf("buffer[%d].TurnID = %d, want %d", i, buf[i].TurnID, want)
		}
	}
}

func TestManagerBufferIsACopy(t *testing.T) {
	m := NewManager(time.Minute, 3)
	s := m.Create("u1")
	if err := m.RecordTurn(s.ID, memory.Turn{TurnID: 1, Text: "original"}); err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}

	buf, _ := m.Buffer(s.ID)
	buf[0].Text = "mutated"

	again, _ := m.Buffer(s.ID)
	if again[0].Text != "original" {
		t.Fatalf("buffer mutated through a returned copy")
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30*time.Millisecond, 3)
	s := m.Create("u1")

	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired id = %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire the session")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
