// Package testutil provides shared test fixtures: small OBJ meshes, an
// on-disk shape database builder, and HTTP assertion helpers.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/shape.search/internal/mesh"
)

// CubeOBJ is a closed unit cube centred on the origin, written with quads
// and outward winding.
const CubeOBJ = `# unit cube
o cube
v -0.5 -0.5 -0.5
v  0.5 -0.5 -0.5
v  0.5  0.5 -0.5
v -0.5  0.5 -0.5
v -0.5 -0.5  0.5
v  0.5 -0.5  0.5
v  0.5  0.5  0.5
v -0.5  0.5  0.5
f 1 4 3 2
f 5 6 7 8
f 1 2 6 5
f 3 4 8 7
f 2 3 7 6
f 1 5 8 4
`

// TetraOBJ is a right-angled tetrahedron with legs of length 1.
const TetraOBJ = `v 0 0 0
v 1 0 0
v 0 1 0
v 0 0 1
f 1 3 2
f 1 2 4
f 1 4 3
f 2 3 4
`

// BoxOBJ returns the OBJ text of an axis-aligned box with the given extents,
// whose minimum corner sits at (ox, oy, oz).
func BoxOBJ(w, h, d, ox, oy, oz float64) string {
	var b strings.Builder
	for _, c := range [][3]float64{
		{0, 0, 0}, {w, 0, 0}, {w, h, 0}, {0, h, 0},
		{0, 0, d}, {w, 0, d}, {w, h, d}, {0, h, d},
	} {
		fmt.Fprintf(&b, "v %g %g %g\n", c[0]+ox, c[1]+oy, c[2]+oz)
	}
	b.WriteString("f 1 4 3 2\nf 5 6 7 8\nf 1 2 6 5\nf 3 4 8 7\nf 2 3 7 6\nf 1 5 8 4\n")
	return b.String()
}

// MustParse parses OBJ text or fails the test.
func MustParse(t testing.TB, obj string) *mesh.Mesh {
	t.Helper()
	m, err := mesh.ParseOBJ(strings.NewReader(obj))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return m
}

// Cube returns the parsed CubeOBJ fixture.
func Cube(t testing.TB) *mesh.Mesh { return MustParse(t, CubeOBJ) }

// Tetra returns the parsed TetraOBJ fixture.
func Tetra(t testing.TB) *mesh.Mesh { return MustParse(t, TetraOBJ) }

// ShapeDatabase lays out category/filename -> OBJ text under a fresh
// temporary directory and returns its path.
func ShapeDatabase(t testing.TB, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

// BoxDatabase returns a small two-class database: flat plates and tall
// columns, with slight size variation inside each class.
func BoxDatabase(t testing.TB) string {
	t.Helper()
	return ShapeDatabase(t, map[string]string{
		"Plate/p1.obj":  BoxOBJ(1.0, 1.0, 0.10, 0, 0, 0),
		"Plate/p2.obj":  BoxOBJ(1.2, 1.1, 0.12, 3, 0, 0),
		"Plate/p3.obj":  BoxOBJ(0.9, 1.0, 0.09, 0, 5, 0),
		"Column/c1.obj": BoxOBJ(0.2, 0.2, 2.0, 0, 0, 0),
		"Column/c2.obj": BoxOBJ(0.25, 0.22, 2.2, 1, 1, 1),
		"Column/c3.obj": BoxOBJ(0.18, 0.2, 1.9, -2, 0, 4),
	})
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Serve runs req against h and returns the recorder.
func Serve(h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
