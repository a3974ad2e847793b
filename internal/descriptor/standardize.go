package descriptor

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Standardizer rescales scalar features to zero mean and unit variance over
// a reference set of descriptors. Histograms are already normalised and are
// left unchanged.
type Standardizer struct {
	Mean map[string]float64 `json:"mean"`
	Std  map[string]float64 `json:"std"`
}

// FitStandardizer computes per-feature statistics over ds. Features with
// fewer than two samples or no spread get a standard deviation of 0.
func FitStandardizer(ds []Descriptor) *Standardizer {
	s := &Standardizer{
		Mean: make(map[string]float64),
		Std:  make(map[string]float64),
	}
	if len(ds) == 0 {
		return s
	}
	col := make([]float64, len(ds))
	for _, name := range ScalarNames() {
		for i, d := range ds {
			col[i] = d.Scalars[name]
		}
		if len(ds) < 2 {
			s.Mean[name] = col[0]
			s.Std[name] = 0
			continue
		}
		mean, std := stat.MeanStdDev(col, nil)
		if math.IsNaN(std) {
			std = 0
		}
		s.Mean[name] = mean
		s.Std[name] = std
	}
	return s
}

// Apply returns a copy of d with z-scored scalars. A feature with zero
// standard deviation maps to 0. A nil Standardizer returns d unchanged.
func (s *Standardizer) Apply(d Descriptor) Descriptor {
	out := d.Clone()
	if s == nil {
		return out
	}
	if out.Scalars == nil {
		out.Scalars = make(map[string]float64)
	}
	for _, name := range ScalarNames() {
		std := s.Std[name]
		if std == 0 {
			out.Scalars[name] = 0
			continue
		}
		out.Scalars[name] = stat.StdScore(d.Scalars[name], s.Mean[name], std)
	}
	return out
}
