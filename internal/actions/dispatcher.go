package actions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ent0n29/jarvis/internal/memory"
)

// State is the dispatcher position in a single turn's state machine.
type State string

const (
	StateNoMatch   State = "no_match"
	StateMatched   State = "matched"
	StateExecuting State = "executing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

var (
	// ErrInvalidArguments marks a schema validation failure; the action
	// never executes.
	ErrInvalidArguments = errors.New("invalid action arguments")
	// ErrExecution marks a fault raised by the capability itself.
	ErrExecution = errors.New("action execution failed")
)

// Outcome is what one dispatch pass produces. Record is nil exactly when
// State is StateNoMatch. Narrative is the model output with the action
// signal stripped, ready to be spoken.
type Outcome struct {
	State     State
	Record    *memory.ActionRecord
	Narrative string
	Err       error
}

// Dispatcher turns raw model output into at most one executed action.
// It never retries; retry policy belongs to the caller.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Structured tag: [action_name key=value key="quoted value"].
var (
	tagPattern = regexp.MustCompile(`\[([a-z][a-z0-9_]*)((?:\s+[a-z0-9_]+=(?:"[^"]*"|[^\s\]]+))*)\s*\]`)
	argPattern = regexp.MustCompile(`([a-z0-9_]+)=("[^"]*"|[^\s\]]+)`)
)

// Dispatch runs the per-turn state machine over raw model output:
// NoMatch -> Matched (tag, embedded JSON, or trigger phrase) ->
// Executing -> Succeeded|Failed. Identical output against an identical
// registry always reaches the same terminal state with the same
// arguments.
func (d *Dispatcher) Dispatch(ctx context.Context, output string) Outcome {
	match, narrative := d.match(output)
	if match == nil {
		return Outcome{State: StateNoMatch, Narrative: strings.TrimSpace(output)}
	}

	record := &memory.ActionRecord{Name: match.cap.Name, Args: match.args}

	if err := ValidateArgs(match.cap.InputSchema, match.args); err != nil {
		record.Status = memory.ActionFailed
		record.Result = err.Error()
		return Outcome{
			State:     StateFailed,
			Record:    record,
			Narrative: narrative,
			Err:       fmt.Errorf("%w: %v", ErrInvalidArguments, err),
		}
	}

	result, err := match.cap.Execute(ctx, match.args)
	if err != nil {
		record.Status = memory.ActionFailed
		record.Result = err.Error()
		return Outcome{
			State:     StateFailed,
			Record:    record,
			Narrative: narrative,
			Err:       fmt.Errorf("%w: %v", ErrExecution, err),
		}
	}

	record.Status = memory.ActionSucceeded
	record.Result = result
	return Outcome{State: StateSucceeded, Record: record, Narrative: narrative}
}

type actionMatch struct {
	cap  *Capability
	args map[string]any
}

// match finds at most one action signal. Preference order: structured
// tag, embedded JSON object, trigger phrase. Within trigger matching the
// longest literal match wins; remaining ties go to registration order.
func (d *Dispatcher) match(output string) (*actionMatch, string) {
	if m, narrative, ok := d.matchTag(output); ok {
		return m, narrative
	}
	if m, narrative, ok := d.matchJSON(output); ok {
		return m, narrative
	}
	if m, ok := d.matchTrigger(output); ok {
		return m, strings.TrimSpace(output)
	}
	return nil, strings.TrimSpace(output)
}

func (d *Dispatcher) matchTag(output string) (*actionMatch, string, bool) {
	for _, loc := range tagPattern.FindAllStringSubmatchIndex(output, -1) {
		name := output[loc[2]:loc[3]]
		cap, ok := d.registry.Get(name)
		if !ok {
			continue
		}
		args := map[string]any{}
		for _, arg := range argPattern.FindAllStringSubmatch(output[loc[4]:loc[5]], -1) {
			args[arg[1]] = coerceScalar(arg[2])
		}
		narrative := strings.TrimSpace(output[:loc[0]] + output[loc[1]:])
		return &actionMatch{cap: cap, args: args}, narrative, true
	}
	return nil, "", false
}

func (d *Dispatcher) matchJSON(output string) (*actionMatch, string, bool) {
	start := strings.IndexByte(output, '{')
	end := strings.LastIndexByte(output, '}')
	if start < 0 || end <= start {
		return nil, "", false
	}
	candidate := output[start : end+1]
	if !gjson.Valid(candidate) {
		return nil, "", false
	}
	name := gjson.Get(candidate, "action").String()
	if name == "" {
		return nil, "", false
	}
	cap, ok := d.registry.Get(name)
	if !ok {
		return nil, "", false
	}
	args := map[string]any{}
	gjson.Get(candidate, "parameters").ForEach(func(key, value gjson.Result) bool {
		args[key.String()] = value.Value()
		return true
	})
	narrative := gjson.Get(candidate, "response").String()
	if narrative == "" {
		narrative = strings.TrimSpace(output[:start] + output[end+1:])
	}
	return &actionMatch{cap: cap, args: args}, narrative, true
}

func (d *Dispatcher) matchTrigger(output string) (*actionMatch, bool) {
	lower := strings.ToLower(output)
	var (
		best    *Capability
		bestLen int
		bestArg map[string]any
	)
	for _, cap := range d.registry.All() {
		for _, trig := range cap.Triggers {
			phrase := strings.ToLower(strings.TrimSpace(trig.Phrase))
			if phrase == "" || !strings.Contains(lower, phrase) {
				continue
			}
			// Strictly longer wins; equal length keeps the earlier
			// registration.
			if len(phrase) > bestLen {
				best = cap
				bestLen = len(phrase)
				bestArg = trig.Args
			}
		}
	}
	if best == nil {
		return nil, false
	}
	args := make(map[string]any, len(bestArg))
	for k, v := range bestArg {
		args[k] = v
	}
	return &actionMatch{cap: best, args: args}, true
}

func coerceScalar(raw string) any {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}
