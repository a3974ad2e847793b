package descriptor

import (
	"math"

	"github.com/banshee-data/shape.search/internal/mesh"
)

const (
	// minVolume is the volume below which a mesh is treated as an open or
	// flat surface.
	minVolume = 1e-12

	// compactnessCap bounds compactness for surfaces with no volume and for
	// near-degenerate solids.
	compactnessCap = 1000.0

	// eccentricityCap bounds λ1/λ3 for flat and linear shapes.
	eccentricityCap = 1000.0
)

// Scalars computes the global features of an already normalised mesh.
func Scalars(m *mesh.Mesh) map[string]float64 {
	area := m.SurfaceArea()
	vol := m.Volume()
	bboxVol := m.Bounds().Volume()

	s := map[string]float64{
		FeatureSurfaceArea:  area,
		FeatureDiameter:     m.Diameter(),
		FeatureBBoxVolume:   bboxVol,
		FeatureEccentricity: eccentricity(m),
		InfoVertexCount:     float64(len(m.Vertices)),
		InfoFaceCount:       float64(len(m.Faces)),
	}

	if vol < minVolume {
		s[FeatureVolume] = 0
		s[FeatureRectangularity] = 0
		s[FeatureSphericity] = 0
		if area > 0 {
			s[FeatureCompactness] = compactnessCap
		} else {
			s[FeatureCompactness] = 0
		}
		return s
	}

	compactness := math.Min(area*area*area/(36*math.Pi*vol*vol), compactnessCap)
	s[FeatureVolume] = vol
	s[FeatureCompactness] = compactness
	if compactness > 0 {
		s[FeatureSphericity] = 1 / compactness
	}
	if bboxVol > 0 {
		s[FeatureRectangularity] = math.Min(vol/bboxVol, 1)
	}
	return s
}

// eccentricity is the ratio of the largest to the smallest covariance
// eigenvalue.
func eccentricity(m *mesh.Mesh) float64 {
	_, vals, err := mesh.PrincipalAxes(m.Vertices, m.Centroid())
	if err != nil || vals[0] <= 0 {
		return 0
	}
	if vals[2] <= vals[0]/eccentricityCap {
		return eccentricityCap
	}
	return vals[0] / vals[2]
}
