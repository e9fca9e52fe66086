package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageTranscript(t *testing.T) {
	raw := []byte(`{"type":"client_transcript","session_id":"s1","text":"open cursor","ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	transcript, ok := msg.(ClientTranscript)
	if !ok {
		t.Fatalf("message type = %T, want ClientTranscript", msg)
	}
	if transcript.SessionID != "s1" || transcript.Text != "open cursor" {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}
	if transcript.TSMs != 123 {
		t.Fatalf("TSMs = %d, want %d", transcript.TSMs, 123)
	}
}

func TestParseClientMessageCancel(t *testing.T) {
	raw := []byte(`{"type":"client_cancel","session_id":"s1","turn_id":7}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	cancel, ok := msg.(ClientCancel)
	if !ok {
		t.Fatalf("message type = %T, want ClientCancel", msg)
	}
	if cancel.SessionID != "s1" || cancel.TurnID != 7 {
		t.Fatalf("unexpected cancel: %+v", cancel)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsEmptyTranscript(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_transcript","session_id":"s1","text":""}`))
	if err == nil {
		t.Fatalf("empty transcript should be rejected")
	}
}
