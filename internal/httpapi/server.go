package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/jarvis/internal/config"
	"github.com/ent0n29/jarvis/internal/memory"
	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/orchestrator"
	"github.com/ent0n29/jarvis/internal/protocol"
	"github.com/ent0n29/jarvis/internal/session"
)

// Orchestrator runs one exchange per call and supports cooperative
// cancellation of the in-flight model call.
type Orchestrator interface {
	HandleTurn(ctx context.Context, sessionID, utterance string) (orchestrator.TurnResult, error)
	Cancel(sessionID string) bool
	Drain(ctx context.Context) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	metrics      *observability.Metrics
	stages       *observability.TurnStageWindow
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orch Orchestrator, metrics *observability.Metrics, stages *observability.TurnStageWindow) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orch,
		metrics:      metrics,
		stages:       stages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// usually omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Delete("/v1/sessions/{id}", s.handleEndSession)
	r.Post("/v1/sessions/{id}/turns", s.handleTurn)
	r.Get("/v1/ws", s.handleSessionWS)
	r.Get("/v1/debug/turn-stats", s.handleTurnStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()

	// Session teardown is a flush boundary; the session's turns must be
	// durable before the end is acknowledged.
	if err := s.orchestrator.Drain(r.Context()); err != nil {
		s.metrics.MemoryEvents.WithLabelValues("teardown_flush_failed").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

type turnRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	SessionID string                 `json:"session_id"`
	TurnID    uint64                 `json:"turn_id"`
	Text      string                 `json:"text"`
	Action    *protocol.ActionResult `json:"action,omitempty"`
	Degraded  bool                   `json:"degraded,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_utterance", "text is required")
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	res, err := s.orchestrator.HandleTurn(r.Context(), id, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			respondError(w, http.StatusRequestTimeout, "turn_canceled", "turn was canceled")
		case errors.Is(err, session.ErrEnded), errors.Is(err, session.ErrNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, turnResponse{
		SessionID: res.SessionID,
		TurnID:    res.TurnID,
		Text:      res.Text,
		Action:    actionResultOf(res.Action),
		Degraded:  res.Degraded,
	})
}

func (s *Server) handleTurnStats(w http.ResponseWriter, _ *http.Request) {
	if s.stages == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	// Turns run off the read loop so a cancel message can reach the
	// orchestrator while a turn is in flight.
	var turns []chan struct{}
readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.send(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		// Any well-formed client message counts as session activity, so
		// a connected voice layer is not expired mid-conversation.
		_ = s.sessions.Touch(sessionID)

		switch msg := parsed.(type) {
		case protocol.ClientTranscript:
			done := make(chan struct{})
			turns = append(turns, done)
			go func(text string) {
				defer close(done)
				s.runTurn(ctx, sessionID, text, outbound)
			}(msg.Text)
		case protocol.ClientCancel:
			if s.orchestrator.Cancel(sessionID) {
				s.send(ctx, outbound, protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: sessionID,
					Code:      "turn_canceled",
				})
			}
		}

		select {
		case <-ctx.Done():
			break readLoop
		default:
		}
	}

	cancel()
	for _, done := range turns {
		<-done
	}
	close(outbound)
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) runTurn(ctx context.Context, sessionID, text string, outbound chan<- any) {
	res, err := s.orchestrator.HandleTurn(ctx, sessionID, text)
	if err != nil {
		code := "turn_failed"
		if errors.Is(err, context.Canceled) {
			code = "turn_canceled"
		}
		s.send(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Source:    "orchestrator",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}
	s.send(ctx, outbound, protocol.AssistantResponse{
		Type:      protocol.TypeAssistantResponse,
		SessionID: sessionID,
		TurnID:    res.TurnID,
		Text:      res.Text,
		Action:    actionResultOf(res.Action),
		Degraded:  res.Degraded,
	})
}

func (s *Server) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func actionResultOf(record *memory.ActionRecord) *protocol.ActionResult {
	if record == nil {
		return nil
	}
	return &protocol.ActionResult{
		Name:   record.Name,
		Args:   record.Args,
		Status: string(record.Status),
		Result: record.Result,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientTranscript:
		return m.Type, true
	case protocol.ClientCancel:
		return m.Type, true
	case protocol.AssistantResponse:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
