package retrieval

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/descriptor"
)

func scalarOnly() Weights {
	return Weights{ScalarMetric: config.MetricEuclidean, Scalar: 1, Histograms: map[string]float64{}}
}

func point(id, category string, x float64) descriptor.Descriptor {
	return descriptor.Descriptor{
		ShapeID:    id,
		Category:   category,
		Scalars:    map[string]float64{descriptor.FeatureSurfaceArea: x},
		Histograms: map[string][]float64{"D2": {1, 0}},
	}
}

func TestLinearIndex_Query(t *testing.T) {
	t.Parallel()

	ix := NewLinearIndex(scalarOnly())
	for _, d := range []descriptor.Descriptor{
		point("a", "X", 0), point("b", "X", 1), point("c", "Y", 5), point("d", "Y", -1),
	} {
		require.NoError(t, ix.Add(d))
	}
	assert.Equal(t, 4, ix.Len())

	got, err := ix.Query(point("a", "X", 0), 2)
	require.NoError(t, err)
	assert.Equal(t, []Match{
		{ShapeID: "b", Category: "X", Distance: 1, Rank: 1},
		{ShapeID: "d", Category: "Y", Distance: 1, Rank: 2},
	}, got, "self excluded, tie broken by ID")

	got, err = ix.Query(point("", "", 4), 0)
	require.NoError(t, err)
	require.Len(t, got, 4, "k <= 0 returns everything")
	assert.Equal(t, "c", got[0].ShapeID)
	assert.Equal(t, 4, got[3].Rank)
}

func TestLinearIndex_Empty(t *testing.T) {
	t.Parallel()

	_, err := NewLinearIndex(scalarOnly()).Query(point("", "", 0), 3)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestLinearIndex_DimensionMismatch(t *testing.T) {
	t.Parallel()

	ix := NewLinearIndex(WeightsFromConfig(config.Empty()))
	require.NoError(t, ix.Add(point("a", "X", 0)))
	q := point("", "", 0)
	q.Histograms["D2"] = []float64{1, 0, 0}
	_, err := ix.Query(q, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestKDTreeIndex_MatchesLinear(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	random := func(id string) descriptor.Descriptor {
		d := descriptor.Descriptor{ShapeID: id, Category: "C", Scalars: map[string]float64{}}
		for _, name := range descriptor.ScalarNames() {
			d.Scalars[name] = rng.NormFloat64()
		}
		return d
	}

	w := scalarOnly()
	w.Scalar = 2
	lin, kd := NewLinearIndex(w), NewKDTreeIndex(w)
	for i := 0; i < 200; i++ {
		d := random(fmt.Sprintf("s%03d", i))
		require.NoError(t, lin.Add(d))
		require.NoError(t, kd.Add(d))
	}

	for i := 0; i < 20; i++ {
		q := random("")
		want, err := lin.Query(q, 5)
		require.NoError(t, err)
		got, err := kd.Query(q, 5)
		require.NoError(t, err)
		require.Len(t, got, 5)
		for j := range want {
			assert.Equal(t, want[j].ShapeID, got[j].ShapeID)
			assert.InDelta(t, want[j].Distance, got[j].Distance, 1e-9)
		}
	}
}

func TestKDTreeIndex_SelfExclusionAndLazyRebuild(t *testing.T) {
	t.Parallel()

	kd := NewKDTreeIndex(scalarOnly())
	require.NoError(t, kd.Add(point("a", "X", 0)))
	require.NoError(t, kd.Add(point("b", "X", 1)))

	got, err := kd.Query(point("a", "X", 0), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ShapeID)

	// Adding after a query invalidates the tree.
	require.NoError(t, kd.Add(point("c", "Y", 0.5)))
	got, err = kd.Query(point("a", "X", 0), 1)
	require.NoError(t, err)
	assert.Equal(t, "c", got[0].ShapeID)

	got, err = kd.Query(point("a", "X", 0), 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestKDTreeIndex_Errors(t *testing.T) {
	t.Parallel()

	kd := NewKDTreeIndex(WeightsFromConfig(config.Empty()))
	_, err := kd.Query(point("", "", 0), 1)
	assert.ErrorIs(t, err, ErrEmptyIndex)

	require.NoError(t, kd.Add(point("a", "X", 0)))
	bad := point("b", "X", 0)
	bad.Histograms["D2"] = []float64{1, 0, 0}
	assert.ErrorIs(t, kd.Add(bad), ErrDimensionMismatch)
	_, err = kd.Query(bad, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNewIndex(t *testing.T) {
	t.Parallel()

	ix, err := NewIndex(config.IndexKDTree, scalarOnly())
	require.NoError(t, err)
	assert.IsType(t, &KDTreeIndex{}, ix)

	ix, err = NewIndex(config.IndexLinear, scalarOnly())
	require.NoError(t, err)
	assert.IsType(t, &LinearIndex{}, ix)

	_, err = NewIndex("lsh", scalarOnly())
	assert.Error(t, err)
}
