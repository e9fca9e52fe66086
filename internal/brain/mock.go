package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no model
// provider is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	utterance := lastUserContent(req)
	lowered := strings.ToLower(utterance)

	switch {
	case utterance == "":
		return "I am listening."
	case strings.Contains(lowered, "open cursor"):
		return "Sure, I'll open Cursor for you. [open_app app=cursor]"
	case strings.Contains(lowered, "what time"):
		return "Let me check. [get_time]"
	case strings.Contains(lowered, "date today"), strings.Contains(lowered, "today's date"):
		return "Let me check. [get_date]"
	default:
		return fmt.Sprintf("I heard you: %s", utterance)
	}
}

func lastUserContent(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return ""
}
