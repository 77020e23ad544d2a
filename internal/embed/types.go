package embed

import (
	"context"
	"math"
	"time"
)

// Batch and timeout defaults shared by every Embedder implementation.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion
	// when an ingest caller hands the engine a very large document set).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single remote (Ollama) embedding request when
	// no other timeout is configured for it; the engine's timeouts.embed
	// setting is a separate value and is not applied here.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for a
	// transient embedding failure (spec §7 kind 4: retry once, then degrade).
	DefaultMaxRetries = 1
)

// DefaultDimensions is the embedding dimension used when no provider- or
// config-specific dimension is given.
const DefaultDimensions = 256

// Embedder generates vector embeddings for text (spec §4.1, EmbeddingProvider).
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call. Every
	// implementation must support batching (spec §4.1 invariant); callers
	// that only have one text should still prefer EmbedBatch when embedding
	// more than one text, rather than looping over Embed.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension D.
	Dimensions() int

	// ModelName returns the model identifier, used as part of the cache key
	// and in logs.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases resources held by the embedder.
	Close() error
}

// normalizeVector returns v scaled to unit L2 norm, or v unchanged if it is
// the zero vector (spec §4.1 invariant: ||embedding|| = 1 ± 1e-6).
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
