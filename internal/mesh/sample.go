package mesh

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Sampler draws uniformly distributed points from a mesh surface. Triangles
// are picked with probability proportional to their area. Point clouds and
// zero-area meshes are sampled by picking vertices.
type Sampler struct {
	mesh *Mesh
	cdf  []float64
	rng  *rand.Rand
}

// NewSampler builds a sampler seeded with seed. The same seed and mesh always
// yield the same sequence of points.
func NewSampler(m *Mesh, seed uint64) *Sampler {
	s := &Sampler{
		mesh: m,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	if len(m.Faces) == 0 {
		return s
	}
	cdf := make([]float64, len(m.Faces))
	var total float64
	for i := range m.Faces {
		total += m.TriangleArea(i)
		cdf[i] = total
	}
	if total > 0 {
		s.cdf = cdf
	}
	return s
}

// Rand exposes the sampler's random source so callers can draw indices
// from the same reproducible stream.
func (s *Sampler) Rand() *rand.Rand { return s.rng }

// Point returns one random surface point.
func (s *Sampler) Point() Vec3 {
	if s.cdf == nil {
		return s.mesh.Vertices[s.rng.IntN(len(s.mesh.Vertices))]
	}
	total := s.cdf[len(s.cdf)-1]
	i := sort.SearchFloat64s(s.cdf, s.rng.Float64()*total)
	if i >= len(s.cdf) {
		i = len(s.cdf) - 1
	}
	f := s.mesh.Faces[i]
	a, b, c := s.mesh.Vertices[f[0]], s.mesh.Vertices[f[1]], s.mesh.Vertices[f[2]]

	r1 := math.Sqrt(s.rng.Float64())
	r2 := s.rng.Float64()
	return a.Scale(1 - r1).Add(b.Scale(r1 * (1 - r2))).Add(c.Scale(r1 * r2))
}

// Points returns n random surface points.
func (s *Sampler) Points(n int) []Vec3 {
	pts := make([]Vec3, n)
	for i := range pts {
		pts[i] = s.Point()
	}
	return pts
}

// SampleSurface is a convenience wrapper around NewSampler(m, seed).Points(n).
func SampleSurface(m *Mesh, n int, seed uint64) []Vec3 {
	if len(m.Vertices) == 0 || n <= 0 {
		return nil
	}
	return NewSampler(m, seed).Points(n)
}
