// Package retrieval ranks shapes in a database by descriptor similarity.
package retrieval

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/descriptor"
)

var (
	// ErrDimensionMismatch is returned when two feature vectors differ in length.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
	// ErrEmptyIndex is returned when querying an index with no shapes.
	ErrEmptyIndex = errors.New("index is empty")
)

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return floats.Distance(a, b, 2), nil
}

// Cosine returns 1 - cos(a, b). Two zero vectors are at distance 0; a zero
// vector and a non-zero vector are at distance 1.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	switch {
	case na == 0 && nb == 0:
		return 0, nil
	case na == 0 || nb == 0:
		return 1, nil
	}
	cos := floats.Dot(a, b) / (na * nb)
	return 1 - math.Max(-1, math.Min(1, cos)), nil
}

// EMD1D returns the earth mover's distance between two histograms over the
// same bins, with the whole range taken as unit length. Each histogram is
// normalised to sum 1 first; an all-zero histogram is treated as uniform.
func EMD1D(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	sa, sb := mass(a), mass(b)
	width := 1 / float64(len(a))

	var ca, cb, emd float64
	for i := range a {
		ca += share(a, i, sa)
		cb += share(b, i, sb)
		emd += math.Abs(ca - cb)
	}
	return emd * width, nil
}

func mass(h []float64) float64 {
	var s float64
	for _, v := range h {
		if v > 0 {
			s += v
		}
	}
	return s
}

func share(h []float64, i int, total float64) float64 {
	if total == 0 {
		return 1 / float64(len(h))
	}
	return math.Max(h[i], 0) / total
}

// Weights controls how DescriptorDistance combines its parts.
type Weights struct {
	ScalarMetric string
	Scalar       float64
	Histograms   map[string]float64
}

// WeightsFromConfig reads the distance weights from cfg.
func WeightsFromConfig(cfg *config.Config) Weights {
	if cfg == nil {
		cfg = config.Empty()
	}
	w := Weights{
		ScalarMetric: cfg.GetScalarMetric(),
		Scalar:       cfg.GetScalarWeight(),
		Histograms:   make(map[string]float64, len(config.HistogramNames)),
	}
	for _, name := range config.HistogramNames {
		w.Histograms[name] = cfg.GetHistogramWeight(name)
	}
	return w
}

// DescriptorDistance is the weighted sum of the scalar distance between the
// (already standardised) scalar vectors and the EMD between each pair of
// histograms.
func DescriptorDistance(a, b descriptor.Descriptor, w Weights) (float64, error) {
	var total float64
	if w.Scalar > 0 {
		var d float64
		var err error
		if w.ScalarMetric == config.MetricCosine {
			d, err = Cosine(a.ScalarVector(), b.ScalarVector())
		} else {
			d, err = Euclidean(a.ScalarVector(), b.ScalarVector())
		}
		if err != nil {
			return 0, err
		}
		total += w.Scalar * d
	}
	for _, name := range config.HistogramNames {
		hw := w.Histograms[name]
		if hw <= 0 {
			continue
		}
		d, err := EMD1D(a.Histograms[name], b.Histograms[name])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		total += hw * d
	}
	return total, nil
}
