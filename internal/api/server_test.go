package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shape.search/internal/catalog"
	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/db"
	"github.com/banshee-data/shape.search/internal/monitoring"
	"github.com/banshee-data/shape.search/internal/retrieval"
	"github.com/banshee-data/shape.search/internal/testutil"
	"github.com/banshee-data/shape.search/internal/version"
)

func init() {
	monitoring.SetLogger(nil)
}

func testConfig() *config.Config {
	samples, bins, workers, k := 1500, 10, 2, 2
	cfg := config.Empty()
	cfg.SampleCount = &samples
	cfg.HistogramBins = &bins
	cfg.Workers = &workers
	cfg.K = &k
	return cfg
}

// newTestServer indexes the two-class box database. database may be nil.
func newTestServer(t *testing.T, database *db.DB) *Server {
	t.Helper()
	cat, err := catalog.Open(testutil.BoxDatabase(t))
	require.NoError(t, err)
	var store retrieval.DescriptorStore
	if database != nil {
		store = database
	}
	e := retrieval.NewEngine(testConfig(), cat, store)
	_, err = e.Build(t.Context())
	require.NoError(t, err)
	return NewServer(ServerConfig{Engine: e, DB: database})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func TestCategories(t *testing.T) {
	s := newTestServer(t, nil)
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/categories", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	got := decode[[]catalog.CategoryCount](t, rec)
	assert.Equal(t, []catalog.CategoryCount{{Name: "Column", Count: 3}, {Name: "Plate", Count: 3}}, got)

	rec = testutil.Serve(s.ServeMux(), http.MethodPost, "/api/categories", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestListShapes(t *testing.T) {
	s := newTestServer(t, nil)
	mux := s.ServeMux()

	tests := []struct {
		query string
		want  int
	}{
		{"", 6},
		{"?category=all", 6},
		{"?category=Plate", 3},
		{"?category=Sphere", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := testutil.Serve(mux, http.MethodGet, "/api/shapes"+tt.query, "")
			testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
			got := decode[[]catalog.Entry](t, rec)
			assert.Len(t, got, tt.want)
			assert.NotNil(t, got)
		})
	}
}

func TestShapeInfo(t *testing.T) {
	s := newTestServer(t, nil)
	mux := s.ServeMux()

	for _, path := range []string{"/api/shapes/Column/c1.obj/info", "/api/shapes/Column/c1.obj"} {
		rec := testutil.Serve(mux, http.MethodGet, path, "")
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

		info := decode[ShapeInfo](t, rec)
		assert.Equal(t, "Column/c1.obj", info.ID)
		assert.Equal(t, "Column", info.Category)
		assert.Equal(t, "c1.obj", info.Filename)
		assert.Equal(t, 8, info.Vertices)
		assert.Equal(t, 12, info.Faces)
		assert.False(t, info.PointCloud)
		assert.InDeltaSlice(t, []float64{0.2, 0.2, 2.0}, info.Dimensions[:], 1e-9)
		assert.Equal(t, "Low Resolution", info.Quality)
		assert.True(t, info.Indexed)
		assert.Contains(t, info.Scalars, "volume")
		assert.Nil(t, info.IndexedAt)
		assert.Empty(t, info.DescriptorHash)
	}
}

func TestShapeInfoFromDatabase(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()
	s := newTestServer(t, database)

	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/shapes/Plate/p2.obj/info", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	info := decode[ShapeInfo](t, rec)
	require.NotNil(t, info.IndexedAt)
	assert.False(t, info.IndexedAt.IsZero())
	assert.Equal(t, s.engine.Extractor().ConfigHash(), info.DescriptorHash)
	assert.False(t, info.Stale)
}

func TestShapeMesh(t *testing.T) {
	s := newTestServer(t, nil)
	mux := s.ServeMux()

	rec := testutil.Serve(mux, http.MethodGet, "/api/shapes/Plate/p2.obj/mesh", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	m := decode[MeshResponse](t, rec)
	assert.Len(t, m.Vertices, 8)
	assert.Len(t, m.Faces, 12)
	assert.False(t, m.Normalized)
	assert.Equal(t, [3]float64{3, 0, 0}, m.Vertices[0])

	rec = testutil.Serve(mux, http.MethodGet, "/api/shapes/Plate/p2.obj/mesh?normalized=true", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	m = decode[MeshResponse](t, rec)
	assert.True(t, m.Normalized)
	for _, v := range m.Vertices {
		for _, c := range v {
			assert.LessOrEqual(t, c, 0.5+1e-9)
			assert.GreaterOrEqual(t, c, -0.5-1e-9)
		}
	}
}

func TestShapeErrors(t *testing.T) {
	s := newTestServer(t, nil)
	mux := s.ServeMux()

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/shapes/Plate/missing.obj/info", http.StatusNotFound},
		{http.MethodGet, "/api/shapes/Plate/missing.obj/similar", http.StatusNotFound},
		{http.MethodGet, "/api/shapes/Plate/p1.obj/explode", http.StatusNotFound},
		{http.MethodGet, "/api/shapes/Plate", http.StatusBadRequest},
		{http.MethodGet, "/api/shapes/a/b/c/d", http.StatusBadRequest},
		{http.MethodGet, "/api/shapes/Plate/p1.obj/similar?k=0", http.StatusBadRequest},
		{http.MethodGet, "/api/shapes/Plate/p1.obj/similar?k=abc", http.StatusBadRequest},
		{http.MethodDelete, "/api/shapes/Plate/p1.obj/info", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/query", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := testutil.Serve(mux, tt.method, tt.path, "")
			testutil.AssertStatusCode(t, rec.Code, tt.want)
			body := decode[map[string]string](t, rec)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSimilar(t *testing.T) {
	s := newTestServer(t, nil)

	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/shapes/Plate/p1.obj/similar", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	resp := decode[QueryResponse](t, rec)
	assert.Equal(t, "Plate/p1.obj", resp.Query)
	require.Len(t, resp.Matches, 2, "configured k is 2")
	for i, m := range resp.Matches {
		assert.Equal(t, "Plate", m.Category)
		assert.Equal(t, i+1, m.Rank)
		assert.NotEqual(t, "Plate/p1.obj", m.ShapeID)
	}

	rec = testutil.Serve(s.ServeMux(), http.MethodGet, "/api/shapes/Plate/p1.obj/similar?k=5", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	resp = decode[QueryResponse](t, rec)
	assert.Len(t, resp.Matches, 5)
	assert.Equal(t, 5, resp.K)
}

func TestQueryUpload(t *testing.T) {
	s := newTestServer(t, nil)
	mux := s.ServeMux()

	column := "o upload\n" + testutil.BoxOBJ(0.3, 0.3, 2.5, 7, 7, 7)
	rec := testutil.Serve(mux, http.MethodPost, "/api/query?k=3", column)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	resp := decode[QueryResponse](t, rec)
	assert.Equal(t, "upload", resp.Query)
	require.Len(t, resp.Matches, 3)
	for _, m := range resp.Matches {
		assert.Equal(t, "Column", m.Category)
	}

	rec = testutil.Serve(mux, http.MethodPost, "/api/query", "f 1 2 3\n")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.Serve(mux, http.MethodPost, "/api/query", "# nothing here\n")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	for _, body := range []string{"v nan 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n", "v inf 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"} {
		rec = testutil.Serve(mux, http.MethodPost, "/api/query", body)
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		assert.Contains(t, rec.Body.String(), "non-finite coordinate")
	}

	small := NewServer(ServerConfig{Engine: s.engine, MaxUploadBytes: 64})
	rec = testutil.Serve(small.ServeMux(), http.MethodPost, "/api/query", column)
	testutil.AssertStatusCode(t, rec.Code, http.StatusRequestEntityTooLarge)
}

func TestEmptyIndex(t *testing.T) {
	cat, err := catalog.Open(testutil.ShapeDatabase(t, map[string]string{"Cup/a.obj": "v 0 0 0\n"}))
	require.NoError(t, err)
	s := NewServer(ServerConfig{Engine: retrieval.NewEngine(testConfig(), cat, nil)})

	rec := testutil.Serve(s.ServeMux(), http.MethodPost, "/api/query", testutil.CubeOBJ)
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestEvaluations(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()

	s := newTestServer(t, database)
	mux := s.ServeMux()

	rec := testutil.Serve(mux, http.MethodGet, "/api/evaluations", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Empty(t, decode[[]retrieval.EvaluationRun](t, rec))

	rec = testutil.Serve(mux, http.MethodPost, "/api/evaluations?k=2", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	run := decode[retrieval.EvaluationRun](t, rec)
	assert.Equal(t, 6, run.Queries)
	assert.InDelta(t, 1.0, run.MAP, 1e-9)

	rec = testutil.Serve(mux, http.MethodGet, "/api/evaluations?limit=5", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	runs := decode[[]retrieval.EvaluationRun](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)

	rec = testutil.Serve(mux, http.MethodGet, "/api/evaluations/"+run.RunID, "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := decode[retrieval.EvaluationRun](t, rec)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.K, got.K)
	assert.InDelta(t, run.MAP, got.MAP, 1e-9)

	rec = testutil.Serve(mux, http.MethodGet, "/api/evaluations/no-such-run", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	rec = testutil.Serve(mux, http.MethodGet, "/api/evaluations/a/b", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = testutil.Serve(mux, http.MethodDelete, "/api/evaluations/"+run.RunID, "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	rec = testutil.Serve(mux, http.MethodGet, "/api/evaluations?limit=-1", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = testutil.Serve(mux, http.MethodPut, "/api/evaluations", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	// Descriptors were persisted through the engine's store.
	stored, err := database.LoadDescriptors(t.Context(), s.engine.Extractor().ConfigHash())
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

func TestEvaluationsWithoutDB(t *testing.T) {
	s := newTestServer(t, nil)
	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/api/evaluations", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = testutil.Serve(s.ServeMux(), http.MethodGet, "/api/evaluations/some-run", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestVersionAndIndex(t *testing.T) {
	s := newTestServer(t, nil)
	mux := s.ServeMux()

	rec := testutil.Serve(mux, http.MethodGet, "/api/version", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, version.Current(), decode[version.Info](t, rec))

	rec = testutil.Serve(mux, http.MethodGet, "/?category=Plate", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	assert.Contains(t, body, "6 shapes indexed")
	assert.Contains(t, body, "p1.obj")
	assert.NotContains(t, body, "c1.obj")
}

func TestHandlerMountsAdminRoutes(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()

	s := newTestServer(t, database)
	h, err := s.Handler()
	require.NoError(t, err)

	rec := testutil.Serve(h, http.MethodGet, "/debug/tailsql/", "")
	assert.NotEqual(t, http.StatusNotFound, rec.Code)

	rec = testutil.Serve(h, http.MethodGet, "/api/version", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})
	defer monitoring.SetLogger(nil)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("tea"))
	}))
	rec := testutil.Serve(h, http.MethodGet, "/brew", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "[%s] %s"))

	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}
