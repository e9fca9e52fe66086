package embed

import (
	"context"
	"errors"
	"math"
	"strings"
)

// Embedder turns text into a fixed-dimension vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

var ErrEmptyText = errors.New("cannot embed empty text")

// LocalEmbedder is a deterministic offline embedder. It hashes token
// trigrams into a fixed-dimension bag and unit-normalizes the result, so
// identical texts always map to identical vectors and lexically similar
// texts land close together. It is the fallback when no embedding API is
// configured and the default for tests.
type LocalEmbedder struct {
	dim int
}

func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &LocalEmbedder{dim: dim}
}

func (e *LocalEmbedder) Dim() int { return e.dim }

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, e.dim)
	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		// Whole words plus trigrams, so short utterances still overlap.
		vec[hashString(word)%uint32(e.dim)] += 2
		for i := 0; i+3 <= len(runes); i++ {
			vec[hashString(string(runes[i:i+3]))%uint32(e.dim)]++
		}
	}
	normalize(vec)
	return vec, nil
}

func hashString(s string) uint32 {
	// FNV-1a, inlined to keep Embed allocation-free.
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

// Cosine returns the cosine similarity of two equal-length vectors,
// or 0 when either is empty or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
