package embed

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(256)

	a, err := e.Embed(context.Background(), "how do cats purr")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "how do cats purr")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
}

func TestHashEmbedder_EmptyInputZeroVector(t *testing.T) {
	e := NewHashEmbedder(64)

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, x := range vec {
		assert.Zero(t, x)
	}
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	e := NewHashEmbedder(128)

	vec, err := e.Embed(context.Background(), "feline behaviour overview")
	require.NoError(t, err)

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestHashEmbedder_DistinctTextsDiffer(t *testing.T) {
	e := NewHashEmbedder(256)

	a, err := e.Embed(context.Background(), "goldfish tank maintenance")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "dog training basics")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

// countingEmbedder tracks how many times the inner embedder is invoked.
type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int   { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string { return c.inner.ModelName() }

func TestCachedEmbedder_AvoidsRecomputation(t *testing.T) {
	counting := &countingEmbedder{inner: NewHashEmbedder(64)}
	cached := NewCachedEmbedder(counting, 10)

	ctx := context.Background()
	first, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	second, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), counting.calls.Load())
}

func TestCachedEmbedder_BatchReusesCachedEntries(t *testing.T) {
	counting := &countingEmbedder{inner: NewHashEmbedder(64)}
	cached := NewCachedEmbedder(counting, 10)

	ctx := context.Background()
	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// alpha was already cached, only beta and gamma hit the inner embedder.
	assert.Equal(t, int64(3), counting.calls.Load())
}
