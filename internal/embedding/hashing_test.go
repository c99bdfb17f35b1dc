package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squaredDistance(a, b domain.Embedding) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

func TestHashing_Dimension(t *testing.T) {
	assert.Equal(t, DefaultHashingDimensions, NewHashing(0).Dimension())
	assert.Equal(t, 32, NewHashing(32).Dimension())
}

func TestHashing_Normalised(t *testing.T) {
	h := NewHashing(64)
	vec, err := h.Embed(context.Background(), "Grace period of thirty days")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestHashing_CaseInsensitiveAndDeterministic(t *testing.T) {
	h := NewHashing(128)
	ctx := context.Background()

	a, err := h.Embed(ctx, "Maternity Benefits")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "maternity benefits")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashing_SharedWordsAreCloser(t *testing.T) {
	h := NewHashing(256)
	ctx := context.Background()

	vecs, err := h.EmbedMany(ctx, []string{
		"What is the grace period for premium payment?",
		"A grace period of thirty days is allowed for premium payment.",
		"Cataract surgery has a waiting period of two years.",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Less(t, squaredDistance(vecs[0], vecs[1]), squaredDistance(vecs[0], vecs[2]))
}

func TestHashing_NoTokensYieldsZeroVector(t *testing.T) {
	vec, err := NewHashing(8).Embed(context.Background(), "... the of ...")
	require.NoError(t, err)
	assert.Equal(t, make(domain.Embedding, 8), vec)
}

func TestHashing_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHashing(8).EmbedMany(ctx, []string{"x"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingProviderUnavailable)
}
