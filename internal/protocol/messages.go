package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTranscript   MessageType = "client_transcript"
	TypeClientCancel       MessageType = "client_cancel"
	TypeAssistantResponse  MessageType = "assistant_response"
	TypeSystemEvent        MessageType = "system_event"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTranscript carries one finalized user utterance.
type ClientTranscript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

// ClientCancel asks the server to abandon the in-flight turn.
type ClientCancel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    uint64      `json:"turn_id,omitempty"`
}

// ActionResult summarizes the system action a turn performed, if any.
type ActionResult struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status"`
	Result string         `json:"result,omitempty"`
}

// AssistantResponse is the complete reply for one turn.
type AssistantResponse struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id"`
	TurnID    uint64        `json:"turn_id"`
	Text      string        `json:"text"`
	Action    *ActionResult `json:"action,omitempty"`
	Degraded  bool          `json:"degraded,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTranscript:
		var msg ClientTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_transcript")
		}
		return msg, nil
	case TypeClientCancel:
		var msg ClientCancel
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_cancel")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
