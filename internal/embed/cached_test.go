package embed

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps an Embedder and counts calls to the inner provider,
// so tests can assert that a cache hit skips the underlying computation.
type countingEmbedder struct {
	Embedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Embedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int32(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_RepeatedQueryHitsCache(t *testing.T) {
	inner := &countingEmbedder{Embedder: NewStaticEmbedder(16)}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "revenue trend")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "revenue trend")
	require.NoError(t, err)

	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedder_DistinctQueriesMiss(t *testing.T) {
	inner := &countingEmbedder{Embedder: NewStaticEmbedder(16)}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, _ = cached.Embed(ctx, "revenue trend")
	_, _ = cached.Embed(ctx, "customer churn")

	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestCachedEmbedder_EmbedBatchOnlyComputesUncached(t *testing.T) {
	inner := &countingEmbedder{Embedder: NewStaticEmbedder(16)}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	inner.calls.Store(0)

	results, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingEmbedder{Embedder: NewStaticEmbedder(16)}
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cached.Embed(ctx, fmt.Sprintf("query-%d", i))
		require.NoError(t, err)
	}
	inner.calls.Store(0)

	// query-0 was evicted by the bounded cache; re-embedding it recomputes.
	_, err := cached.Embed(ctx, "query-0")
	require.NoError(t, err)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedder_PassthroughMethods(t *testing.T) {
	inner := NewStaticEmbedder(16)
	cached := NewCachedEmbedder(inner, 10)

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
}
