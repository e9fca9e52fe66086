package embed

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocalEmbedder(64)

	a, err := e.Embed(context.Background(), "open the browser")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := e.Embed(context.Background(), "open the browser")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("dims = %d, %d, want 64", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocalEmbedderUnitNorm(t *testing.T) {
	e := NewLocalEmbedder(32)
	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1) > 1e-5 {
		t.Fatalf("norm = %v, want 1", math.Sqrt(sum))
	}
}

func TestLocalEmbedderRejectsEmptyText(t *testing.T) {
	e := NewLocalEmbedder(16)
	if _, err := e.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("Embed() error = %v, want ErrEmptyText", err)
	}
}

func TestLocalEmbedderSimilarityOrdering(t *testing.T) {
	e := NewLocalEmbedder(128)
	base, _ := e.Embed(context.Background(), "open the browser for me")
	near, _ := e.Embed(context.Background(), "please open the browser")
	far, _ := e.Embed(context.Background(), "what is the capital of peru")

	if Cosine(base, near) <= Cosine(base, far) {
		t.Fatalf("similar texts score %v, dissimilar %v; want similar higher",
			Cosine(base, near), Cosine(base, far))
	}
}

func TestCosineEdgeCases(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Fatalf("Cosine on mismatched dims = %v, want 0", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{0, 0}); got != 0 {
		t.Fatalf("Cosine on zero vectors = %v, want 0", got)
	}
	if got := Cosine([]float32{1, 2}, []float32{1, 2}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("Cosine of identical vectors = %v, want 1", got)
	}
}

func TestFactoryModes(t *testing.T) {
	e, err := New(Config{Provider: "local", Dim: 24})
	if err != nil {
		t.Fatalf("New(local) error = %v", err)
	}
	if e.Dim() != 24 {
		t.Fatalf("Dim() = %d, want 24", e.Dim())
	}

	if _, err := New(Config{Provider: "openai"}); err == nil {
		t.Fatalf("New(openai) without key should fail")
	}
	if _, err := New(Config{Provider: "warp"}); err == nil {
		t.Fatalf("New(warp) should fail")
	}

	auto, err := New(Config{Provider: "auto"})
	if err != nil {
		t.Fatalf("New(auto) error = %v", err)
	}
	if _, ok := auto.(*LocalEmbedder); !ok {
		t.Fatalf("auto without key should select the local embedder, got %T", auto)
	}
}
