package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Trigger is a literal phrase that selects a capability when the model
// output carries no structured tag. Args are the arguments implied by
// the phrase ("open cursor" -> open_app{app: cursor}).
type Trigger struct {
	Phrase string
	Args   map[string]any
}

// Capability describes one executable action available to the dispatcher.
type Capability struct {
	Name        string
	Description string
	Triggers    []Trigger
	InputSchema *jsonschema.Schema
	Execute     func(ctx context.Context, args map[string]any) (string, error)
}

// Registry is the table of known capabilities. Entries are registered
// before session start and the registry is frozen afterwards; insertion
// order is preserved because it breaks trigger-match ties.
type Registry struct {
	mu     sync.RWMutex
	caps   []*Capability
	byName map[string]*Capability
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Capability)}
}

func (r *Registry) Register(cap *Capability) error {
	if cap == nil || strings.TrimSpace(cap.Name) == "" {
		return fmt.Errorf("capability name is required")
	}
	if cap.Execute == nil {
		return fmt.Errorf("capability %q has no execute function", cap.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen; register capabilities before session start")
	}
	if _, dup := r.byName[cap.Name]; dup {
		return fmt.Errorf("capability %q already registered", cap.Name)
	}
	r.caps = append(r.caps, cap)
	r.byName[cap.Name] = cap
	return nil
}

// Freeze marks the registry immutable for the lifetime of the process.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// All returns capabilities in registration order.
func (r *Registry) All() []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Capability, len(r.caps))
	copy(out, r.caps)
	return out
}

// VocabularyEntry is one line of the action vocabulary handed to the
// prompt composer.
type VocabularyEntry struct {
	Name        string
	Description string
	SchemaJSON  string
}

// Vocabulary renders each capability's name, description, and argument
// schema for the prompt preamble.
func (r *Registry) Vocabulary() []VocabularyEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]VocabularyEntry, 0, len(r.caps))
	for _, c := range r.caps {
		entry := VocabularyEntry{Name: c.Name, Description: c.Description}
		if c.InputSchema != nil {
			if raw, err := json.Marshal(c.InputSchema); err == nil {
				entry.SchemaJSON = string(raw)
			}
		}
		out = append(out, entry)
	}
	return out
}
