// Package orchestrator runs the per-turn conversation pipeline:
// persist the user turn, retrieve context, compose the prompt, call
// the model, dispatch at most one action, and persist the reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/jarvis/internal/actions"
	"github.com/ent0n29/jarvis/internal/brain"
	"github.com/ent0n29/jarvis/internal/memory"
	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/policy"
	"github.com/ent0n29/jarvis/internal/prompt"
	"github.com/ent0n29/jarvis/internal/session"
)

// FallbackReply is spoken whenever the model fails or times out. It is
// fixed so clients and tests can rely on it.
const FallbackReply = "Sorry, I'm having trouble thinking right now. Could you say that again?"

const actionFailureNote = "I couldn't complete that action."

type Config struct {
	ModelTimeout       time.Duration
	MemoryQueryTimeout time.Duration
	MemoryTopK         int
	PromptBudgetRunes  int
}

func (c *Config) applyDefaults() {
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 8 * time.Second
	}
	if c.MemoryQueryTimeout <= 0 {
		c.MemoryQueryTimeout = 300 * time.Millisecond
	}
	if c.MemoryTopK <= 0 {
		c.MemoryTopK = 4
	}
}

// TurnResult is the finished exchange returned to the transport layer.
type TurnResult struct {
	SessionID string
	TurnID    uint64
	Text      string
	Action    *memory.ActionRecord
	Degraded  bool
}

type Orchestrator struct {
	store      *memory.Store
	sessions   *session.Manager
	model      brain.Adapter
	dispatcher *actions.Dispatcher
	registry   *actions.Registry
	composer   prompt.Composer
	cfg        Config

	metrics *observability.Metrics
	stages  *observability.TurnStageWindow

	mu       sync.Mutex
	turnLock map[string]*sync.Mutex
	inFlight map[string]context.CancelFunc

	// appends tracks in-flight background persistence so Drain can
	// wait for it during shutdown.
	appends sync.WaitGroup
}

func New(
	store *memory.Store,
	sessions *session.Manager,
	model brain.Adapter,
	registry *actions.Registry,
	cfg Config,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		store:      store,
		sessions:   sessions,
		model:      model,
		dispatcher: actions.NewDispatcher(registry),
		registry:   registry,
		composer:   prompt.Composer{BudgetRunes: cfg.PromptBudgetRunes},
		cfg:        cfg,
		turnLock:   make(map[string]*sync.Mutex),
		inFlight:   make(map[string]context.CancelFunc),
	}
}

func (o *Orchestrator) SetMetrics(m *observability.Metrics) { o.metrics = m }

func (o *Orchestrator) SetStageWindow(w *observability.TurnStageWindow) { o.stages = w }

// HandleTurn runs one full exchange. Turns within a session are
// serialized; concurrent calls for the same session queue behind the
// active one.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, utterance string) (TurnResult, error) {
	lock := o.sessionTurnLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.ObserveTurnLatency(time.Since(started))
		}
		o.observeStage(observability.StageTurnTotal, time.Since(started))
	}()

	userTurnID, err := o.sessions.BeginTurn(sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("begin turn: %w", err)
	}

	// The whole turn runs under a cancelable context so a barge-in can
	// land at any point before the model call is issued. Once the model
	// call is in flight the same cancel makes it return early.
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()
	o.mu.Lock()
	o.inFlight[sessionID] = cancelTurn
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, sessionID)
		o.mu.Unlock()
	}()

	redacted, _ := policy.RedactPII(utterance)
	userTurn := memory.Turn{
		SessionID: sessionID,
		TurnID:    userTurnID,
		Role:      memory.RoleUser,
		Text:      redacted,
		CreatedAt: time.Now().UTC(),
	}

	// Snapshot the short-term buffer before recording the new turn so
	// the utterance appears exactly once in the prompt.
	buffer, err := o.sessions.Buffer(sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("read session buffer: %w", err)
	}
	if err := o.sessions.RecordTurn(sessionID, userTurn); err != nil {
		return TurnResult{}, fmt.Errorf("record user turn: %w", err)
	}

	o.appendAsync(userTurn)

	// Retrieval runs concurrently with the snapshot work above but the
	// prompt is never composed until it settles. A slow or failing
	// store yields an empty result set, not an error.
	hits := o.queryMemory(turnCtx, sessionID, redacted)

	composeStart := time.Now()
	payload := o.composer.Compose(redacted, buffer, hits, o.registry.Vocabulary())
	o.observeStage(observability.StageCompose, time.Since(composeStart))

	result := TurnResult{SessionID: sessionID, TurnID: userTurnID}

	// A cancel that landed during retrieval or compose abandons the
	// turn before the model is ever consulted.
	if turnCtx.Err() != nil {
		o.finishTurn(sessionID, userTurnID)
		o.countTurn("canceled")
		return TurnResult{}, turnCtx.Err()
	}

	reply, err := o.callModel(turnCtx, sessionID, userTurnID, payload)
	switch {
	case err == nil:
		outcome := o.dispatch(ctx, reply)
		result.Text = mergeReply(outcome)
		result.Action = outcome.Record
	case errors.Is(err, context.Canceled):
		// Explicit cancel, from the caller's context or a Cancel call
		// racing the model. A timeout reports DeadlineExceeded and takes
		// the fallback branch below instead.
		o.finishTurn(sessionID, userTurnID)
		o.countTurn("canceled")
		return TurnResult{}, err
	default:
		// The turn survives every model failure: note the error and
		// answer with the fixed fallback.
		result.Text = FallbackReply
		result.Degraded = true
		o.noteModelFailure(sessionID, err)
	}

	assistantTurnID, err := o.sessions.BeginTurn(sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("begin assistant turn: %w", err)
	}
	assistantText, _ := policy.RedactPII(result.Text)
	assistantTurn := memory.Turn{
		SessionID: sessionID,
		TurnID:    assistantTurnID,
		Role:      memory.RoleAssistant,
		Text:      assistantText,
		Action:    result.Action,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.sessions.RecordTurn(sessionID, assistantTurn); err != nil {
		return TurnResult{}, fmt.Errorf("record assistant turn: %w", err)
	}

	persistStart := time.Now()
	o.appendAsync(assistantTurn)
	o.observeStage(observability.StagePersist, time.Since(persistStart))

	o.finishTurn(sessionID, assistantTurnID)
	if result.Degraded {
		o.countTurn("fallback")
	} else {
		o.countTurn("completed")
	}
	return result, nil
}

// Cancel abandons the session's active turn, if any. Before the model
// call is issued the turn aborts immediately; once the call is in
// flight the cancel is cooperative and the call returns early.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	cancel, ok := o.inFlight[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Drain waits for background persistence to settle, then flushes the
// store's overflow buffer.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.appends.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.store.Flush(ctx)
}

func (o *Orchestrator) queryMemory(ctx context.Context, sessionID, text string) []memory.ScoredTurn {
	start := time.Now()
	qctx, cancel := context.WithTimeout(ctx, o.cfg.MemoryQueryTimeout)
	defer cancel()

	hits := o.store.Query(qctx, sessionID, text, o.cfg.MemoryTopK)
	o.observeStage(observability.StageMemoryQuery, time.Since(start))
	if len(hits) == 0 && qctx.Err() != nil {
		o.observeIndicator("memory_degraded")
	}
	return hits
}

func (o *Orchestrator) callModel(ctx context.Context, sessionID string, turnID uint64, payload prompt.Payload) (string, error) {
	mctx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	defer cancel()

	msgs := make([]brain.Message, 0, len(payload.Blocks))
	for _, b := range payload.Blocks {
		msgs = append(msgs, brain.Message{Role: string(b.Role), Content: b.Content})
	}

	start := time.Now()
	resp, err := o.model.Generate(mctx, brain.Request{
		SessionID: sessionID,
		TurnID:    fmt.Sprintf("%d", turnID),
		Messages:  msgs,
	})
	o.observeStage(observability.StageModelCall, time.Since(start))
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, reply string) actions.Outcome {
	start := time.Now()
	outcome := o.dispatcher.Dispatch(ctx, reply)
	o.observeStage(observability.StageDispatch, time.Since(start))

	if o.metrics != nil && outcome.Record != nil {
		o.metrics.ActionEvents.WithLabelValues(outcome.Record.Name, string(outcome.State)).Inc()
	}
	return outcome
}

// mergeReply joins the spoken narrative with the action result, in
// that order.
func mergeReply(outcome actions.Outcome) string {
	text := outcome.Narrative
	switch outcome.State {
	case actions.StateSucceeded:
		if outcome.Record != nil && outcome.Record.Result != "" {
			text = joinSpeech(text, outcome.Record.Result)
		}
	case actions.StateFailed:
		text = joinSpeech(text, actionFailureNote)
	}
	return text
}

func joinSpeech(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}

func (o *Orchestrator) noteModelFailure(sessionID string, err error) {
	o.observeIndicator("model_fallback")
	o.countTurn("model_error")

	turnID, allocErr := o.sessions.BeginTurn(sessionID)
	if allocErr != nil {
		return
	}
	note := memory.Turn{
		SessionID: sessionID,
		TurnID:    turnID,
		Role:      memory.RoleSystem,
		Text:      fmt.Sprintf("model call failed: %v", err),
		CreatedAt: time.Now().UTC(),
	}
	// The note takes a turn id, so it belongs in the short-term buffer
	// as well as the log; both must show the same recent-turn sequence.
	_ = o.sessions.RecordTurn(sessionID, note)
	o.appendAsync(note)
	o.finishTurn(sessionID, turnID)
}

// appendAsync persists a turn without blocking the caller. The write
// outlives turn cancellation; the store buffers it on failure.
func (o *Orchestrator) appendAsync(turn memory.Turn) {
	o.appends.Add(1)
	go func() {
		defer o.appends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = o.store.Append(ctx, turn)
	}()
}

func (o *Orchestrator) sessionTurnLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.turnLock[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.turnLock[sessionID] = lock
	}
	return lock
}

func (o *Orchestrator) finishTurn(sessionID string, turnID uint64) {
	_ = o.sessions.FinishTurn(sessionID, turnID)
}

func (o *Orchestrator) countTurn(event string) {
	if o.metrics != nil {
		o.metrics.TurnEvents.WithLabelValues(event).Inc()
	}
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	if o.stages != nil {
		o.stages.Observe(stage, d)
	}
}

func (o *Orchestrator) observeIndicator(name string) {
	if o.stages != nil {
		o.stages.ObserveIndicator(name)
	}
}
