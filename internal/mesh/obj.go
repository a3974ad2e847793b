package mesh

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// maxLineBytes is the longest OBJ line the scanner accepts.
const maxLineBytes = 4 << 20

// ParseError records the line at which an OBJ file could not be parsed.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("obj line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LoadOBJ reads and parses the OBJ file at path.
func LoadOBJ(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// ParseOBJ reads a Wavefront OBJ stream. Vertex positions, normals, texture
// coordinates and faces are kept; materials, groups, smoothing and line
// elements are skipped. Polygons with more than three corners are split
// into a triangle fan. A stream without any "v" statement returns
// ErrNoVertices.
func ParseOBJ(r io.Reader) (*Mesh, error) {
	m := &Mesh{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "v":
			var v Vec3
			v, err = parseVec3(fields[1:])
			if err == nil {
				m.Vertices = append(m.Vertices, v)
			}
		case "vn":
			var n Vec3
			n, err = parseVec3(fields[1:])
			if err == nil {
				m.Normals = append(m.Normals, n)
			}
		case "vt":
			var uv [2]float64
			uv, err = parseTexCoord(fields[1:])
			if err == nil {
				m.TexCoords = append(m.TexCoords, uv)
			}
		case "f":
			err = m.addFace(fields[1:])
		case "o", "g":
			if m.Name == "" && len(fields) > 1 {
				m.Name = strings.Join(fields[1:], " ")
			}
		}
		if err != nil {
			return nil, &ParseError{Line: lineNo, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read obj: %w", err)
	}
	if len(m.Vertices) == 0 {
		return nil, ErrNoVertices
	}
	return m, nil
}

func parseVec3(fields []string) (Vec3, error) {
	if len(fields) < 3 {
		return Vec3{}, fmt.Errorf("expected 3 coordinates, got %d", len(fields))
	}
	var xyz [3]float64
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Vec3{}, fmt.Errorf("bad coordinate %q: %w", fields[i], err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Vec3{}, fmt.Errorf("non-finite coordinate %q", fields[i])
		}
		xyz[i] = f
	}
	return Vec3{xyz[0], xyz[1], xyz[2]}, nil
}

func parseTexCoord(fields []string) ([2]float64, error) {
	var uv [2]float64
	if len(fields) < 1 {
		return uv, errors.New("expected texture coordinate")
	}
	for i := 0; i < 2 && i < len(fields); i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return uv, fmt.Errorf("bad texture coordinate %q: %w", fields[i], err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return uv, fmt.Errorf("non-finite coordinate %q", fields[i])
		}
		uv[i] = f
	}
	return uv, nil
}

// addFace resolves the vertex references of one "f" statement and appends
// the resulting triangles.
func (m *Mesh) addFace(tokens []string) error {
	if len(tokens) < 3 {
		return fmt.Errorf("face needs at least 3 vertices, got %d", len(tokens))
	}
	idx := make([]int, len(tokens))
	for i, tok := range tokens {
		ref := tok
		if slash := strings.IndexByte(tok, '/'); slash >= 0 {
			ref = tok[:slash]
		}
		n, err := strconv.Atoi(ref)
		if err != nil {
			return fmt.Errorf("bad face index %q: %w", tok, err)
		}
		switch {
		case n > 0:
			n--
		case n < 0:
			n += len(m.Vertices)
		default:
			return fmt.Errorf("%w: index 0", ErrFaceIndex)
		}
		if n < 0 || n >= len(m.Vertices) {
			return fmt.Errorf("%w: %s with %d vertices", ErrFaceIndex, tok, len(m.Vertices))
		}
		idx[i] = n
	}
	for i := 1; i+1 < len(idx); i++ {
		m.Faces = append(m.Faces, [3]int{idx[0], idx[i], idx[i+1]})
	}
	return nil
}

// WriteOBJ writes the vertex positions and faces of m as OBJ text.
func WriteOBJ(w io.Writer, m *Mesh) error {
	bw := bufio.NewWriter(w)
	if m.Name != "" {
		fmt.Fprintf(bw, "o %s\n", m.Name)
	}
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "v %s %s %s\n", formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z))
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	return bw.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 9, 64)
}
