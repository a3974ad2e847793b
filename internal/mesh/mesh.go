package mesh

import (
	"errors"
	"math"
)

var (
	// ErrNoVertices is returned when a mesh has no vertex positions.
	ErrNoVertices = errors.New("mesh has no vertices")
	// ErrFaceIndex is returned when a face references a vertex that does not exist.
	ErrFaceIndex = errors.New("face index out of range")
)

// Quality labels reported by Quality.
const (
	QualityGood = "Good"
	QualityLow  = "Low Resolution"
)

// maxDiameterVertices bounds the O(n²) diameter search. Larger meshes are
// strided down to roughly this many vertices.
const maxDiameterVertices = 2000

// Mesh is a triangulated polygon mesh. Faces index into Vertices (0-based).
// A mesh with vertices but no faces is treated as a point cloud.
type Mesh struct {
	Name      string
	Vertices  []Vec3
	Normals   []Vec3
	TexCoords [][2]float64
	Faces     [][3]int
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// Size returns the box extents along each axis.
func (b Bounds) Size() Vec3 { return b.Max.Sub(b.Min) }

// Volume returns the box volume.
func (b Bounds) Volume() float64 {
	s := b.Size()
	return s.X * s.Y * s.Z
}

// Clone returns a deep copy of m.
func (m *Mesh) Clone() *Mesh {
	out := &Mesh{
		Name:      m.Name,
		Vertices:  append([]Vec3(nil), m.Vertices...),
		Normals:   append([]Vec3(nil), m.Normals...),
		TexCoords: append([][2]float64(nil), m.TexCoords...),
		Faces:     append([][3]int(nil), m.Faces...),
	}
	return out
}

// IsPointCloud reports whether the mesh has no faces.
func (m *Mesh) IsPointCloud() bool { return len(m.Faces) == 0 }

// Bounds returns the axis-aligned bounding box of the vertices.
func (m *Mesh) Bounds() Bounds {
	if len(m.Vertices) == 0 {
		return Bounds{}
	}
	b := Bounds{Min: m.Vertices[0], Max: m.Vertices[0]}
	for _, v := range m.Vertices[1:] {
		b.Min.X = math.Min(b.Min.X, v.X)
		b.Min.Y = math.Min(b.Min.Y, v.Y)
		b.Min.Z = math.Min(b.Min.Z, v.Z)
		b.Max.X = math.Max(b.Max.X, v.X)
		b.Max.Y = math.Max(b.Max.Y, v.Y)
		b.Max.Z = math.Max(b.Max.Z, v.Z)
	}
	return b
}

// Dimensions returns the bounding box extents.
func (m *Mesh) Dimensions() Vec3 { return m.Bounds().Size() }

// Centroid returns the mean vertex position.
func (m *Mesh) Centroid() Vec3 {
	if len(m.Vertices) == 0 {
		return Vec3{}
	}
	var sum Vec3
	for _, v := range m.Vertices {
		sum = sum.Add(v)
	}
	return sum.Scale(1 / float64(len(m.Vertices)))
}

// Barycenter returns the area-weighted centre of the surface. Point clouds
// and meshes with zero surface area fall back to Centroid.
func (m *Mesh) Barycenter() Vec3 {
	var sum Vec3
	var total float64
	for i, f := range m.Faces {
		a := m.TriangleArea(i)
		c := m.Vertices[f[0]].Add(m.Vertices[f[1]]).Add(m.Vertices[f[2]]).Scale(1.0 / 3)
		sum = sum.Add(c.Scale(a))
		total += a
	}
	if total <= 0 {
		return m.Centroid()
	}
	return sum.Scale(1 / total)
}

// TriangleArea returns the area of face i.
func (m *Mesh) TriangleArea(i int) float64 {
	f := m.Faces[i]
	a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
	return 0.5 * b.Sub(a).Cross(c.Sub(a)).Len()
}

// SurfaceArea returns the total area of all faces.
func (m *Mesh) SurfaceArea() float64 {
	var area float64
	for i := range m.Faces {
		area += m.TriangleArea(i)
	}
	return area
}

// Volume returns the enclosed volume using signed tetrahedra against the
// origin. The result is only meaningful for closed, consistently wound
// meshes; the absolute value is returned so winding direction does not matter.
func (m *Mesh) Volume() float64 {
	var vol float64
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		vol += a.Dot(b.Cross(c)) / 6
	}
	return math.Abs(vol)
}

// Diameter returns the largest distance between two vertices.
func (m *Mesh) Diameter() float64 {
	verts := m.Vertices
	if len(verts) > maxDiameterVertices {
		stride := (len(verts) + maxDiameterVertices - 1) / maxDiameterVertices
		sub := make([]Vec3, 0, maxDiameterVertices+1)
		for i := 0; i < len(verts); i += stride {
			sub = append(sub, verts[i])
		}
		verts = sub
	}
	var best float64
	for i := range verts {
		for j := i + 1; j < len(verts); j++ {
			if d := Dist(verts[i], verts[j]); d > best {
				best = d
			}
		}
	}
	return best
}

// Quality gives a coarse resolution label for display.
func Quality(m *Mesh) string {
	if len(m.Vertices) > 100 && len(m.Faces) > 50 {
		return QualityGood
	}
	return QualityLow
}
