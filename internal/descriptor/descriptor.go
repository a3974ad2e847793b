// Package descriptor turns a mesh into a fixed-length shape signature made of
// global scalar features and shape-property histograms.
//
// Every feature is computed on the pose-normalised mesh (see
// mesh.Normalize), so descriptors are invariant to translation, rotation,
// reflection and uniform scale.
package descriptor

import (
	"fmt"

	"github.com/banshee-data/shape.search/internal/config"
)

// Scalar feature names, in vector order.
const (
	FeatureSurfaceArea    = "surface_area"
	FeatureVolume         = "volume"
	FeatureCompactness    = "compactness"
	FeatureSphericity     = "sphericity"
	FeatureRectangularity = "rectangularity"
	FeatureDiameter       = "diameter"
	FeatureEccentricity   = "eccentricity"
	FeatureBBoxVolume     = "bbox_volume"
)

// Informational scalars stored alongside the descriptor but never compared.
const (
	InfoVertexCount = "vertex_count"
	InfoFaceCount   = "face_count"
)

// ScalarNames returns the compared scalar features in canonical order.
func ScalarNames() []string {
	return []string{
		FeatureSurfaceArea,
		FeatureVolume,
		FeatureCompactness,
		FeatureSphericity,
		FeatureRectangularity,
		FeatureDiameter,
		FeatureEccentricity,
		FeatureBBoxVolume,
	}
}

// Descriptor is the signature of one shape.
type Descriptor struct {
	ShapeID    string               `json:"shape_id"`
	Category   string               `json:"category"`
	Scalars    map[string]float64   `json:"scalars"`
	Histograms map[string][]float64 `json:"histograms"`
}

// ScalarVector returns the compared scalars in ScalarNames order. Missing
// scalars read as zero.
func (d Descriptor) ScalarVector() []float64 {
	names := ScalarNames()
	out := make([]float64, len(names))
	for i, n := range names {
		out[i] = d.Scalars[n]
	}
	return out
}

// FeatureNames returns the column names of Vector: the scalar names followed
// by one column per histogram bin ("D2_03").
func (d Descriptor) FeatureNames() []string {
	names := ScalarNames()
	for _, h := range config.HistogramNames {
		for i := range d.Histograms[h] {
			names = append(names, fmt.Sprintf("%s_%02d", h, i))
		}
	}
	return names
}

// Vector flattens the descriptor in FeatureNames order.
func (d Descriptor) Vector() []float64 {
	out := d.ScalarVector()
	for _, h := range config.HistogramNames {
		out = append(out, d.Histograms[h]...)
	}
	return out
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	out := Descriptor{ShapeID: d.ShapeID, Category: d.Category}
	if d.Scalars != nil {
		out.Scalars = make(map[string]float64, len(d.Scalars))
		for k, v := range d.Scalars {
			out.Scalars[k] = v
		}
	}
	if d.Histograms != nil {
		out.Histograms = make(map[string][]float64, len(d.Histograms))
		for k, v := range d.Histograms {
			out.Histograms[k] = append([]float64(nil), v...)
		}
	}
	return out
}
