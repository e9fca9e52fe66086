package actions

import (
	"context"
	"strings"
	"testing"
)

func noopExecute(ctx context.Context, args map[string]any) (string, error) { return "", nil }

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Capability{Name: "probe", Execute: noopExecute}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&Capability{Name: "probe", Execute: noopExecute}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
}

func TestRegistryFrozen(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	if err := r.Register(&Capability{Name: "late", Execute: noopExecute}); err == nil {
		t.Fatalf("registration after Freeze should fail")
	}
}

func TestRegistryRejectsInvalidCapabilities(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Capability{Name: "  ", Execute: noopExecute}); err == nil {
		t.Fatalf("empty name should fail")
	}
	if err := r.Register(&Capability{Name: "no_exec"}); err == nil {
		t.Fatalf("missing execute function should fail")
	}
}

func TestVocabularyIncludesSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Capability{
		Name:        "open_app",
		Description: "open a desktop application",
		InputSchema: GenerateSchema[OpenAppArgs](),
		Execute:     noopExecute,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	vocab := r.Vocabulary()
	if len(vocab) != 1 {
		t.Fatalf("len(vocab) = %d, want 1", len(vocab))
	}
	if !strings.Contains(vocab[0].SchemaJSON, `"app"`) {
		t.Fatalf("SchemaJSON missing property: %q", vocab[0].SchemaJSON)
	}
}

func TestValidateArgs(t *testing.T) {
	schema := GenerateSchema[OpenAppArgs]()

	if err := ValidateArgs(schema, map[string]any{"app": "cursor"}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if err := ValidateArgs(schema, map[string]any{}); err == nil {
		t.Fatalf("missing required argument accepted")
	}
	if err := ValidateArgs(schema, map[string]any{"app": "cursor", "extra": 1}); err == nil {
		t.Fatalf("unknown argument accepted")
	}
	if err := ValidateArgs(schema, map[string]any{"app": 42}); err == nil {
		t.Fatalf("wrong argument type accepted")
	}
}
