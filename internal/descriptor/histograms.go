package descriptor

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/shape.search/internal/mesh"
)

// HistogramRange is the upper bound of each distribution for a mesh whose
// longest bounding box side is 1. Values beyond it land in the last bin.
var HistogramRange = map[string]float64{
	"A3": math.Pi,
	"D1": math.Sqrt(3) / 2,
	"D2": math.Sqrt(3),
	"D3": math.Sqrt(math.Sqrt(3) / 2),
	"D4": math.Cbrt(1.0 / 3),
}

// Histograms samples the surface of a normalised mesh and returns the A3,
// D1, D2, D3 and D4 distributions, each with bins bins summing to 1. A
// distribution with no valid samples is all zeros.
//
//	A3  angle between three random points
//	D1  distance between the barycentre and a random point
//	D2  distance between two random points
//	D3  square root of the area of the triangle of three random points
//	D4  cube root of the volume of the tetrahedron of four random points
func Histograms(m *mesh.Mesh, samples, bins int, seed uint64) map[string][]float64 {
	values := sampleValues(m, samples, seed)
	out := make(map[string][]float64, len(values))
	for name, v := range values {
		out[name] = histogram(v, HistogramRange[name], bins)
	}
	return out
}

func sampleValues(m *mesh.Mesh, samples int, seed uint64) map[string][]float64 {
	s := mesh.NewSampler(m, seed)
	pool := s.Points(samples)
	rng := s.Rand()
	center := m.Barycenter()

	a3 := make([]float64, 0, samples)
	d1 := make([]float64, 0, samples)
	d2 := make([]float64, 0, samples)
	d3 := make([]float64, 0, samples)
	d4 := make([]float64, 0, samples)

	var idx [4]int
	for i := 0; i < samples; i++ {
		d1 = append(d1, mesh.Dist(pool[i], center))

		pickDistinct(rng, len(pool), idx[:])
		a, b, c, d := pool[idx[0]], pool[idx[1]], pool[idx[2]], pool[idx[3]]

		d2 = append(d2, mesh.Dist(a, b))

		u, v := a.Sub(b), c.Sub(b)
		if lu, lv := u.Len(), v.Len(); lu > 0 && lv > 0 {
			cos := math.Max(-1, math.Min(1, u.Dot(v)/(lu*lv)))
			a3 = append(a3, math.Acos(cos))
		}

		d3 = append(d3, math.Sqrt(0.5*b.Sub(a).Cross(c.Sub(a)).Len()))

		vol := math.Abs(a.Sub(d).Dot(b.Sub(d).Cross(c.Sub(d)))) / 6
		d4 = append(d4, math.Cbrt(vol))
	}

	return map[string][]float64{"A3": a3, "D1": d1, "D2": d2, "D3": d3, "D4": d4}
}

// pickDistinct fills idx with distinct indices in [0,n). When n is smaller
// than len(idx), indices repeat.
func pickDistinct(rng *rand.Rand, n int, idx []int) {
	for i := range idx {
		for attempt := 0; ; attempt++ {
			idx[i] = rng.IntN(n)
			if attempt >= n || !slices.Contains(idx[:i], idx[i]) {
				break
			}
		}
	}
}

// histogram bins values into bins equal-width buckets over [0, upper) and
// normalises the counts to sum 1.
func histogram(values []float64, upper float64, bins int) []float64 {
	count := make([]float64, bins)
	if len(values) == 0 {
		return count
	}

	top := math.Nextafter(upper, 0)
	x := make([]float64, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v) || v < 0:
			v = 0
		case v > top:
			v = top
		}
		x[i] = v
	}
	sort.Float64s(x)

	dividers := floats.Span(make([]float64, bins+1), 0, upper)
	dividers[bins] = upper
	stat.Histogram(count, dividers, x, nil)
	if sum := floats.Sum(count); sum > 0 {
		floats.Scale(1/sum, count)
	}
	return count
}
