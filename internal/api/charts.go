package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/descriptor"
	"github.com/banshee-data/shape.search/internal/httputil"
	"github.com/banshee-data/shape.search/internal/mesh"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// maxScatterPoints bounds the vertices drawn per projection.
const maxScatterPoints = 4000

func renderPage(w http.ResponseWriter, title string, chartList ...components.Charter) {
	page := components.NewPage()
	page.SetPageTitle(title)
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(chartList...)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return "", false
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return "", false
	}
	return id, true
}

// binLabels returns the bin centres of a histogram over [0, upper].
func binLabels(upper float64, bins int) []string {
	labels := make([]string, bins)
	width := upper / float64(bins)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.3f", width*(float64(i)+0.5))
	}
	return labels
}

func barData(values []float64) []opts.BarData {
	out := make([]opts.BarData, len(values))
	for i, v := range values {
		out[i] = opts.BarData{Value: v}
	}
	return out
}

// handleDescriptorChart renders one bar chart per shape-property histogram.
// Query params:
//   - id (required)
//   - compare (optional) overlays the histograms of a second shape
func (s *Server) handleDescriptorChart(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	d, err := s.engine.Descriptor(id)
	if err != nil {
		writeError(w, err)
		return
	}
	var other *descriptor.Descriptor
	if cmp := r.URL.Query().Get("compare"); cmp != "" {
		od, err := s.engine.Descriptor(cmp)
		if err != nil {
			writeError(w, err)
			return
		}
		other = &od
	}

	var list []components.Charter
	for _, name := range config.HistogramNames {
		h, ok := d.Histograms[name]
		if !ok {
			continue
		}
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "320px", AssetsHost: echartsAssetsHost}),
			charts.WithTitleOpts(opts.Title{Title: name, Subtitle: id}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(other != nil), Right: "10%"}),
			charts.WithYAxisOpts(opts.YAxis{Name: "share"}),
		)
		bar.SetXAxis(binLabels(descriptor.HistogramRange[name], len(h))).
			AddSeries(id, barData(h))
		if other != nil {
			bar.AddSeries(other.ShapeID, barData(other.Histograms[name]))
		}
		list = append(list, bar)
	}
	if len(list) == 0 {
		httputil.NotFound(w, "descriptor has no histograms")
		return
	}
	renderPage(w, "Descriptor "+id, list...)
}

// handleShapeChart renders the normalised vertices of a shape as a 3D
// scatter, followed by their projections onto the XY, XZ and YZ planes
// unless projections=false is given.
func (s *Server) handleShapeChart(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	withProjections := true
	if v := r.URL.Query().Get("projections"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'projections' parameter %q", v))
			return
		}
		withProjections = b
	}
	_, m, err := s.loadMesh(id)
	if err != nil {
		writeError(w, err)
		return
	}
	norm, _, err := mesh.Normalize(m, mesh.DefaultNormalizeOptions())
	if err != nil {
		writeError(w, err)
		return
	}

	stride := 1
	if len(norm.Vertices) > maxScatterPoints {
		stride = int(math.Ceil(float64(len(norm.Vertices)) / maxScatterPoints))
	}
	maxAbs := 0.0
	for _, v := range norm.Vertices {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(v.X), math.Max(math.Abs(v.Y), math.Abs(v.Z))))
	}
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1
	}

	points := make([]opts.Chart3DData, 0, len(norm.Vertices)/stride+1)
	for i := 0; i < len(norm.Vertices); i += stride {
		v := norm.Vertices[i]
		points = append(points, opts.Chart3DData{Value: []interface{}{v.X, v.Y, v.Z}})
	}
	cloud := charts.NewScatter3D()
	cloud.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "720px", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Normalised shape", Subtitle: fmt.Sprintf("%s points=%d stride=%d", id, len(points), stride)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X", Type: "value", Min: -pad, Max: pad}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y", Type: "value", Min: -pad, Max: pad}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z", Type: "value", Min: -pad, Max: pad}),
		charts.WithGrid3DOpts(opts.Grid3D{BoxWidth: 100, BoxHeight: 100, BoxDepth: 100}),
	)
	cloud.AddSeries("vertices", points)
	list := []components.Charter{cloud}
	if !withProjections {
		renderPage(w, "Shape "+id, list...)
		return
	}

	projections := []struct {
		name string
		a, b int
	}{
		{"XY", 0, 1},
		{"XZ", 0, 2},
		{"YZ", 1, 2},
	}
	axisNames := [3]string{"X", "Y", "Z"}
	for _, p := range projections {
		data := make([]opts.ScatterData, 0, len(points))
		for i := 0; i < len(norm.Vertices); i += stride {
			v := norm.Vertices[i]
			data = append(data, opts.ScatterData{Value: []interface{}{v.Axis(p.a), v.Axis(p.b)}})
		}
		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "480px", Height: "480px", AssetsHost: echartsAssetsHost}),
			charts.WithTitleOpts(opts.Title{Title: p.name, Subtitle: fmt.Sprintf("%s points=%d stride=%d", id, len(data), stride)}),
			charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: -pad, Max: pad, Name: axisNames[p.a]}),
			charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: -pad, Max: pad, Name: axisNames[p.b]}),
		)
		scatter.AddSeries(p.name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		list = append(list, scatter)
	}
	renderPage(w, "Shape "+id, list...)
}

// handleSimilarChart renders the distances of the k nearest shapes.
func (s *Server) handleSimilarChart(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	k, err := parseK(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	matches, err := s.engine.QueryByID(r.Context(), id, k)
	if err != nil {
		writeError(w, err)
		return
	}

	labels := make([]string, len(matches))
	data := make([]opts.BarData, len(matches))
	for i, m := range matches {
		labels[i] = m.ShapeID
		data[i] = opts.BarData{Name: m.Category, Value: m.Distance}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Nearest shapes", Subtitle: fmt.Sprintf("%s k=%d", id, len(matches))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "distance"}),
	)
	bar.SetXAxis(labels).AddSeries("distance", data)
	renderPage(w, "Similar to "+id, bar)
}
