package descriptor

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/mesh"
	"github.com/banshee-data/shape.search/internal/testutil"
)

func testExtractor(samples, bins int) *Extractor {
	cfg := config.Empty()
	cfg.SampleCount = &samples
	cfg.HistogramBins = &bins
	return NewExtractor(cfg)
}

func TestExtract_BoxScalars(t *testing.T) {
	t.Parallel()

	m := testutil.MustParse(t, testutil.BoxOBJ(4, 2, 1, 3, -2, 7))
	d, err := testExtractor(200, 8).Extract(context.Background(), m)
	require.NoError(t, err)

	// Normalised extents are 1 x 0.5 x 0.25.
	assert.InDelta(t, 1.75, d.Scalars[FeatureSurfaceArea], 1e-9)
	assert.InDelta(t, 0.125, d.Scalars[FeatureVolume], 1e-9)
	assert.InDelta(t, 0.125, d.Scalars[FeatureBBoxVolume], 1e-9)
	assert.InDelta(t, 1.0, d.Scalars[FeatureRectangularity], 1e-9)
	assert.InDelta(t, math.Sqrt(1.3125), d.Scalars[FeatureDiameter], 1e-9)
	assert.InDelta(t, 16.0, d.Scalars[FeatureEccentricity], 1e-6)

	wantCompactness := math.Pow(1.75, 3) / (36 * math.Pi * 0.125 * 0.125)
	assert.InDelta(t, wantCompactness, d.Scalars[FeatureCompactness], 1e-9)
	assert.InDelta(t, 1/wantCompactness, d.Scalars[FeatureSphericity], 1e-9)

	assert.Equal(t, 8.0, d.Scalars[InfoVertexCount])
	assert.Equal(t, 12.0, d.Scalars[InfoFaceCount])
}

func TestExtract_HistogramsAreDistributions(t *testing.T) {
	t.Parallel()

	d, err := testExtractor(1000, 12).Extract(context.Background(), testutil.Tetra(t))
	require.NoError(t, err)

	require.Len(t, d.Histograms, len(config.HistogramNames))
	for _, name := range config.HistogramNames {
		h := d.Histograms[name]
		require.Len(t, h, 12, name)
		var sum float64
		for _, v := range h {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, name)
	}
}

func TestExtract_Reproducible(t *testing.T) {
	t.Parallel()

	ex := testExtractor(500, 8)
	a, err := ex.Extract(context.Background(), testutil.Cube(t))
	require.NoError(t, err)
	b, err := ex.Extract(context.Background(), testutil.Cube(t))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtract_PoseAndScaleInvariant(t *testing.T) {
	t.Parallel()

	ex := testExtractor(5000, 8)
	a, err := ex.Extract(context.Background(), testutil.MustParse(t, testutil.BoxOBJ(4, 2, 1, 0, 0, 0)))
	require.NoError(t, err)
	// Same box with permuted axes, three times larger, elsewhere.
	b, err := ex.Extract(context.Background(), testutil.MustParse(t, testutil.BoxOBJ(3, 12, 6, 5, 5, 5)))
	require.NoError(t, err)

	for _, name := range ScalarNames() {
		assert.InDelta(t, a.Scalars[name], b.Scalars[name], 1e-6, name)
	}
	for _, name := range config.HistogramNames {
		assert.InDeltaSlice(t, a.Histograms[name], b.Histograms[name], 0.05, name)
	}
}

func TestExtract_OpenSurface(t *testing.T) {
	t.Parallel()

	m := testutil.MustParse(t, "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n")
	d, err := testExtractor(100, 4).Extract(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, 0.0, d.Scalars[FeatureVolume])
	assert.Equal(t, 0.0, d.Scalars[FeatureRectangularity])
	assert.Equal(t, 0.0, d.Scalars[FeatureSphericity])
	assert.Equal(t, compactnessCap, d.Scalars[FeatureCompactness])
	assert.Equal(t, eccentricityCap, d.Scalars[FeatureEccentricity])
	assert.Greater(t, d.Scalars[FeatureSurfaceArea], 0.0)
}

func TestExtract_PointCloud(t *testing.T) {
	t.Parallel()

	m := &mesh.Mesh{Vertices: []mesh.Vec3{{X: 0, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 0.5}, {X: 1, Y: 1, Z: 1}}}
	d, err := testExtractor(300, 6).Extract(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.Scalars[FeatureSurfaceArea])
	assert.InDelta(t, 1.0, sum(d.Histograms["D2"]), 1e-9)
}

func TestExtract_Errors(t *testing.T) {
	t.Parallel()

	ex := testExtractor(100, 4)
	_, err := ex.Extract(context.Background(), &mesh.Mesh{})
	assert.ErrorIs(t, err, mesh.ErrNoVertices)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.Extract(ctx, testutil.Cube(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFeatureNamesMatchVector(t *testing.T) {
	t.Parallel()

	d, err := testExtractor(100, 5).Extract(context.Background(), testutil.Cube(t))
	require.NoError(t, err)

	names := d.FeatureNames()
	assert.Len(t, names, len(ScalarNames())+5*len(config.HistogramNames))
	assert.Len(t, d.Vector(), len(names))
	assert.Equal(t, FeatureSurfaceArea, names[0])
	assert.Equal(t, "A3_00", names[len(ScalarNames())])
	assert.Equal(t, "D4_04", names[len(names)-1])
}

func TestHistogram(t *testing.T) {
	t.Parallel()

	got := histogram([]float64{0, 0.5, 0.99, 5, -1, math.NaN()}, 1, 2)
	assert.Equal(t, []float64{0.5, 0.5}, got)

	assert.Equal(t, []float64{0, 0, 0}, histogram(nil, 1, 3))
}

func TestStandardizer(t *testing.T) {
	t.Parallel()

	mk := func(area, vol float64) Descriptor {
		return Descriptor{Scalars: map[string]float64{FeatureSurfaceArea: area, FeatureVolume: vol, InfoFaceCount: 12}}
	}
	ds := []Descriptor{mk(1, 5), mk(2, 5), mk(3, 5)}
	s := FitStandardizer(ds)

	assert.InDelta(t, 2.0, s.Mean[FeatureSurfaceArea], 1e-12)
	assert.InDelta(t, 1.0, s.Std[FeatureSurfaceArea], 1e-12)
	assert.Equal(t, 0.0, s.Std[FeatureVolume])

	out := s.Apply(ds[2])
	assert.InDelta(t, 1.0, out.Scalars[FeatureSurfaceArea], 1e-12)
	assert.Equal(t, 0.0, out.Scalars[FeatureVolume], "zero spread maps to 0")
	assert.Equal(t, 12.0, out.Scalars[InfoFaceCount], "informational scalars are untouched")
	assert.Equal(t, 3.0, ds[2].Scalars[FeatureSurfaceArea], "input is not modified")

	var nilStd *Standardizer
	assert.Equal(t, ds[0], nilStd.Apply(ds[0]))

	single := FitStandardizer(ds[:1])
	assert.Equal(t, 0.0, single.Apply(ds[0]).Scalars[FeatureSurfaceArea])
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}
