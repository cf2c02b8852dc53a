package pipeline

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRF_WorkedExample(t *testing.T) {
	lists := []RankedList{
		{Name: "sparse", Weight: 0.4, IDs: []string{"A", "B", "C"}},
		{Name: "dense", Weight: 0.6, IDs: []string{"B", "A", "D"}},
	}

	fused := FuseRRF(lists, 60)
	require.Len(t, fused, 4)

	assert.Equal(t, "B", fused[0].ID)
	assert.Equal(t, "A", fused[1].ID)

	assert.InDelta(t, 0.6*(1.0/61)+0.4*(1.0/62), fused[0].Score, 1e-12)
	assert.InDelta(t, 0.6*(1.0/62)+0.4*(1.0/61), fused[1].Score, 1e-12)

	// D appears only in the dense list, C only in the sparse one.
	assert.Equal(t, "D", fused[2].ID)
	assert.InDelta(t, 0.6*(1.0/63), fused[2].Score, 1e-12)
	assert.Equal(t, "C", fused[3].ID)
	assert.InDelta(t, 0.4*(1.0/63), fused[3].Score, 1e-12)
}

func TestFuseRRF_ScoresNonIncreasing(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for trial := 0; trial < 50; trial++ {
		shuffle := func() []string {
			ids := append([]string(nil), alphabet...)
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			return ids[:rng.Intn(len(ids))]
		}
		lists := []RankedList{
			{Name: "sparse", Weight: 0.4, IDs: shuffle()},
			{Name: "dense", Weight: 0.6, IDs: shuffle()},
		}

		fused := FuseRRF(lists, 60)
		for i := 1; i < len(fused); i++ {
			assert.GreaterOrEqual(t, fused[i-1].Score, fused[i].Score)
		}
	}
}

func TestFuseRRF_Idempotent(t *testing.T) {
	lists := []RankedList{
		{Name: "sparse", Weight: 0.4, IDs: []string{"x", "y", "z"}},
		{Name: "dense", Weight: 0.6, IDs: []string{"z", "w", "x"}},
	}

	first := FuseRRF(lists, 60)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, FuseRRF(lists, 60))
	}
}

func TestFuseRRF_TieBreakByID(t *testing.T) {
	// Two items each appearing only at the same position of an
	// equal-weight list score identically.
	lists := []RankedList{
		{Name: "sparse", Weight: 0.5, IDs: []string{"zulu"}},
		{Name: "dense", Weight: 0.5, IDs: []string{"alpha"}},
	}

	fused := FuseRRF(lists, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].Score, fused[1].Score)
	assert.Equal(t, "alpha", fused[0].ID)
	assert.Equal(t, "zulu", fused[1].ID)
}

func TestFuseRRF_EmptyLists(t *testing.T) {
	fused := FuseRRF([]RankedList{
		{Name: "sparse", Weight: 0.4},
		{Name: "dense", Weight: 0.6},
	}, 60)
	assert.Empty(t, fused)
}

func TestMaxAttainableRRF(t *testing.T) {
	max := MaxAttainableRRF([]float64{0.6, 0.4}, 60)
	assert.InDelta(t, 1.0/61, max, 1e-12)

	// An item ranked first everywhere normalizes to exactly 1.
	fused := FuseRRF([]RankedList{
		{Name: "sparse", Weight: 0.4, IDs: []string{"top"}},
		{Name: "dense", Weight: 0.6, IDs: []string{"top"}},
	}, 60)
	norms := NormalizeScores(fused, max)
	require.Len(t, norms, 1)
	assert.InDelta(t, 1.0, norms[0], 1e-12)
}
