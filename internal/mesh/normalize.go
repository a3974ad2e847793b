package mesh

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NormalizeOptions selects which pose normalisation steps to apply.
type NormalizeOptions struct {
	Translate bool // move the barycentre to the origin
	Align     bool // rotate principal axes onto X, Y, Z (largest variance on X)
	Flip      bool // mirror axes so most of the mass lies on the positive side
	Scale     bool // scale so the longest bounding box side is 1
}

// DefaultNormalizeOptions enables every step.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{Translate: true, Align: true, Flip: true, Scale: true}
}

// NormalizeReport describes the transform applied by Normalize.
type NormalizeReport struct {
	Translation Vec3       `json:"translation"`
	Axes        [3]Vec3    `json:"axes"`
	Eigenvalues [3]float64 `json:"eigenvalues"` // descending
	Flipped     [3]bool    `json:"flipped"`
	Scale       float64    `json:"scale"`
}

// PrincipalAxes returns the eigenvectors of the vertex covariance matrix
// about center, ordered by decreasing eigenvalue. The third axis is the
// cross product of the first two so the frame is right-handed.
func PrincipalAxes(verts []Vec3, center Vec3) ([3]Vec3, [3]float64, error) {
	identity := [3]Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	if len(verts) == 0 {
		return identity, [3]float64{}, ErrNoVertices
	}

	var c [3][3]float64
	for _, v := range verts {
		d := v.Sub(center)
		p := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				c[i][j] += p[i] * p[j]
			}
		}
	}
	n := float64(len(verts))
	data := make([]float64, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if j >= i {
				data[i*3+j] = c[i][j] / n
			} else {
				data[i*3+j] = c[j][i] / n
			}
		}
	}

	var es mat.EigenSym
	if !es.Factorize(mat.NewSymDense(3, data), true) {
		return identity, [3]float64{}, errors.New("covariance eigen-decomposition failed")
	}
	vals := es.Values(nil) // ascending
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	col := func(j int) Vec3 {
		return Vec3{vecs.At(0, j), vecs.At(1, j), vecs.At(2, j)}
	}
	e1, e2 := col(2), col(1)
	axes := [3]Vec3{e1, e2, e1.Cross(e2)}
	return axes, [3]float64{vals[2], vals[1], vals[0]}, nil
}

// Normalize returns a pose-normalised copy of m. The input mesh is not
// modified. Point clouds are normalised using their vertices only.
func Normalize(m *Mesh, opts NormalizeOptions) (*Mesh, NormalizeReport, error) {
	report := NormalizeReport{
		Axes:  [3]Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Scale: 1,
	}
	if len(m.Vertices) == 0 {
		return nil, report, ErrNoVertices
	}
	out := m.Clone()

	if opts.Translate {
		center := out.Barycenter()
		report.Translation = center.Scale(-1)
		for i, v := range out.Vertices {
			out.Vertices[i] = v.Sub(center)
		}
	}

	if opts.Align {
		axes, vals, err := PrincipalAxes(out.Vertices, out.Centroid())
		if err != nil {
			return nil, report, err
		}
		report.Axes = axes
		report.Eigenvalues = vals
		for i, v := range out.Vertices {
			out.Vertices[i] = Vec3{v.Dot(axes[0]), v.Dot(axes[1]), v.Dot(axes[2])}
		}
		for i, n := range out.Normals {
			out.Normals[i] = Vec3{n.Dot(axes[0]), n.Dot(axes[1]), n.Dot(axes[2])}
		}
	}

	if opts.Flip {
		moments := out.momentSigns()
		flips := 0
		for axis := 0; axis < 3; axis++ {
			if moments[axis] >= 0 {
				continue
			}
			report.Flipped[axis] = true
			flips++
			for i, v := range out.Vertices {
				out.Vertices[i] = v.WithAxis(axis, -v.Axis(axis))
			}
			for i, n := range out.Normals {
				out.Normals[i] = n.WithAxis(axis, -n.Axis(axis))
			}
		}
		// An odd number of mirrors inverts handedness; restore outward winding.
		if flips%2 == 1 {
			for i, f := range out.Faces {
				out.Faces[i] = [3]int{f[0], f[2], f[1]}
			}
		}
	}

	if opts.Scale {
		size := out.Dimensions()
		longest := math.Max(size.X, math.Max(size.Y, size.Z))
		if longest > 0 {
			s := 1 / longest
			report.Scale = s
			for i, v := range out.Vertices {
				out.Vertices[i] = v.Scale(s)
			}
		}
	}

	return out, report, nil
}

// momentSigns computes Σ sign(c)·c² per axis over triangle centroids (or
// vertices for point clouds).
func (m *Mesh) momentSigns() [3]float64 {
	var f [3]float64
	add := func(c Vec3) {
		for axis := 0; axis < 3; axis++ {
			x := c.Axis(axis)
			f[axis] += math.Copysign(x*x, x)
		}
	}
	if m.IsPointCloud() {
		for _, v := range m.Vertices {
			add(v)
		}
		return f
	}
	for _, face := range m.Faces {
		add(m.Vertices[face[0]].Add(m.Vertices[face[1]]).Add(m.Vertices[face[2]]).Scale(1.0 / 3))
	}
	return f
}
