package hash

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	e := New(256, true)
	ctx := context.Background()

	a, err := e.Generate(ctx, "the same input")
	require.NoError(t, err)
	b, err := e.Generate(ctx, "the same input")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.Generate(ctx, "a different input")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenerateDimensionAndNorm(t *testing.T) {
	e := New(64, true)
	vec, err := e.Generate(context.Background(), "input")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestGenerateUnnormalizedRange(t *testing.T) {
	e := New(32, false)
	vec, err := e.Generate(context.Background(), "input")
	require.NoError(t, err)
	for _, v := range vec {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestDefaultDimension(t *testing.T) {
	assert.Equal(t, 256, New(0, false).Dimension())
	assert.Equal(t, 128, New(128, false).Dimension())
}

func TestGenerateBatch(t *testing.T) {
	e := New(16, true)
	out, err := e.GenerateBatch(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, out[0], out[2])
	assert.NotEqual(t, out[0], out[1])
}

func TestMetadata(t *testing.T) {
	e := New(8, false)
	assert.Equal(t, "hash", e.Name())
	assert.Equal(t, "hash-fallback", e.Model())
	assert.NoError(t, e.Healthcheck(context.Background()))
	assert.Zero(t, e.EstimateCost([]string{"x"}))
}
