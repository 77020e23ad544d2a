package embed

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/amanbi/qassist/internal/qtext"
)

// StaticEmbedder is a deterministic, dependency-free Embedder. It hashes
// token and character n-gram features into a fixed-size vector, so the
// engine always has a working embedder even with no model server reachable
// (spec §4.1's "deterministic fallback, same text always yields the same
// embedding").
//
// It is not a learned embedding: semantically similar but lexically
// different queries will not score highly against it. It exists so
// VectorIndex always has something to index, and so tests that need
// reproducible vectors don't depend on an external model.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder returns a StaticEmbedder producing vectors of the given
// dimension, falling back to DefaultDimensions if dims <= 0.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed hashes text's tokens and character bigrams and trigrams into a dims-length
// vector, normalized to unit L2 norm.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

// EmbedBatch embeds each text independently; the static embedder has no
// batching efficiency to gain, but still satisfies the mandatory-batching
// interface so callers never need a special case for it.
func (e *StaticEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *StaticEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)

	lower := strings.ToLower(text)
	words := qtext.Words(lower)
	for _, w := range words {
		addFeature(vec, "w:"+w, 1.0)
	}

	// Character n-grams operate on runes, not bytes, so a CJK query such as
	// "销售额趋势分析" contributes valid trigrams instead of the split-rune
	// garbage a byte-slice window would produce on multi-byte UTF-8.
	runes := []rune(lower)
	for _, n := range []int{2, 3} {
		for _, gram := range extractNgrams(runes, n) {
			addFeature(vec, "n:"+gram, 0.5)
		}
	}

	return normalizeVector(vec)
}

// extractNgrams returns every contiguous window of n runes in runes.
func extractNgrams(runes []rune, n int) []string {
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

// addFeature hashes key into a vector slot and accumulates weight there,
// with a sign derived from a second hash so unrelated features partially
// cancel instead of only ever adding (a standard hashing-trick refinement).
func addFeature(vec []float32, key string, weight float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(vec)
	if idx < 0 {
		idx += len(vec)
	}

	sh := fnv.New32a()
	_, _ = sh.Write([]byte(key + "#sign"))
	sign := float32(1.0)
	if sh.Sum32()%2 == 0 {
		sign = -1.0
	}

	vec[idx] += sign * float32(weight)
}

// Dimensions returns the configured vector dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName identifies this embedder in logs and cache keys.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available always reports true: the static embedder has no external
// dependency to be unavailable.
func (e *StaticEmbedder) Available(_ context.Context) bool { return true }

// Close is a no-op; the static embedder holds no resources.
func (e *StaticEmbedder) Close() error { return nil }
