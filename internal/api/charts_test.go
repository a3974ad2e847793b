package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/shape.search/internal/testutil"
)

func TestCharts(t *testing.T) {
	s := newTestServer(t, nil)
	mux := s.ServeMux()

	tests := []struct {
		path     string
		contains []string
	}{
		{"/charts/descriptor?id=Plate/p1.obj", []string{"A3", "D2", "D4", echartsAssetsHost}},
		{"/charts/descriptor?id=Plate/p1.obj&compare=Column/c1.obj", []string{"Column/c1.obj"}},
		{"/charts/shape?id=Column/c2.obj", []string{"scatter3D", "echarts-gl.min.js", "xAxis3D", "zAxis3D", "XY", "XZ", "YZ", "points=8"}},
		{"/charts/similar?id=Column/c3.obj&k=4", []string{"Nearest shapes", "k=4"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := testutil.Serve(mux, http.MethodGet, tt.path, "")
			testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
			assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
			body := rec.Body.String()
			for _, want := range tt.contains {
				assert.Contains(t, body, want)
			}
		})
	}
}

func TestShapeChartWithoutProjections(t *testing.T) {
	s := newTestServer(t, nil)

	rec := testutil.Serve(s.ServeMux(), http.MethodGet, "/charts/shape?id=Plate/p1.obj&projections=false", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	assert.Contains(t, body, "scatter3D")
	assert.Contains(t, body, "Normalised shape")
	assert.Contains(t, body, "points=8")
	assert.NotContains(t, body, `"text":"XZ"`)
	assert.NotContains(t, body, `"type":"scatter",`)
}

func TestChartErrors(t *testing.T) {
	s := newTestServer(t, nil)
	mux := s.ServeMux()

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/charts/descriptor", http.StatusBadRequest},
		{http.MethodGet, "/charts/descriptor?id=Plate/zzz.obj", http.StatusNotFound},
		{http.MethodGet, "/charts/descriptor?id=Plate/p1.obj&compare=nope", http.StatusNotFound},
		{http.MethodGet, "/charts/shape?id=Plate/zzz.obj", http.StatusNotFound},
		{http.MethodGet, "/charts/shape?id=Plate/p1.obj&projections=maybe", http.StatusBadRequest},
		{http.MethodGet, "/charts/similar?id=Plate/p1.obj&k=-2", http.StatusBadRequest},
		{http.MethodPost, "/charts/similar?id=Plate/p1.obj", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := testutil.Serve(mux, tt.method, tt.path, "")
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestBinLabels(t *testing.T) {
	assert.Equal(t, []string{"0.250", "0.750"}, binLabels(1, 2))
	assert.Len(t, binLabels(3.0, 16), 16)
}
