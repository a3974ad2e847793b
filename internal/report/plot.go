// Package report writes offline outputs: histogram plots per class,
// descriptor CSV exports and normalised meshes.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"path"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/descriptor"
	"github.com/banshee-data/shape.search/internal/fsutil"
	"github.com/banshee-data/shape.search/internal/retrieval"
)

// ErrNoDescriptors is returned when there is nothing to plot or export.
var ErrNoDescriptors = errors.New("no descriptors")

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// PlotClassHistograms writes one PNG per shape-property histogram to outDir,
// overlaying a line per shape of category. It returns the written paths.
func PlotClassHistograms(fsys fsutil.FileSystem, outDir, category string, ds []descriptor.Descriptor) ([]string, error) {
	var members []descriptor.Descriptor
	for _, d := range ds {
		if d.Category == category {
			members = append(members, d)
		}
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w in category %q", ErrNoDescriptors, category)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ShapeID < members[j].ShapeID })

	if err := fsys.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}

	colors := generateColors(len(members))
	var written []string
	for _, name := range config.HistogramNames {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s - %s", category, name)
		p.X.Label.Text = name
		p.Y.Label.Text = "Share of samples"
		p.Legend.Top = true

		upper := descriptor.HistogramRange[name]
		lines := 0
		for i, d := range members {
			h := d.Histograms[name]
			if len(h) == 0 {
				continue
			}
			width := upper / float64(len(h))
			pts := make(plotter.XYs, len(h))
			for b, v := range h {
				pts[b] = plotter.XY{X: width * (float64(b) + 0.5), Y: v}
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return written, err
			}
			line.Color = colors[i]
			line.Width = vg.Points(1)
			p.Add(line)
			p.Legend.Add(path.Base(d.ShapeID), line)
			lines++
		}
		if lines == 0 {
			continue
		}

		file := filepath.Join(outDir, fmt.Sprintf("%s_%s.png", fsutil.SafeName(category), name))
		if err := savePNG(fsys, p, file); err != nil {
			return written, fmt.Errorf("save %s plot: %w", name, err)
		}
		written = append(written, file)
	}
	return written, nil
}

// PlotEvaluation writes a bar chart of per-class mean average precision.
func PlotEvaluation(fsys fsutil.FileSystem, file string, run *retrieval.EvaluationRun) error {
	if len(run.PerClass) == 0 {
		return fmt.Errorf("evaluation %s has no scored classes", run.RunID)
	}
	values := make(plotter.Values, len(run.PerClass))
	labels := make([]string, len(run.PerClass))
	for i, cm := range run.PerClass {
		values[i] = cm.MAP
		labels[i] = cm.Category
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("mAP per class (k=%d, %s index, overall %.3f)", run.K, run.IndexKind, run.MAP)
	p.Y.Label.Text = "mAP"
	p.Y.Min, p.Y.Max = 0, 1

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return err
	}
	bars.Color = color.RGBA{R: 54, G: 116, B: 181, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	if dir := filepath.Dir(file); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return savePNG(fsys, p, file)
}

func savePNG(fsys fsutil.FileSystem, p *plot.Plot, file string) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return err
	}
	f, err := fsys.Create(file)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// generateColors spreads n hues evenly around the colour wheel.
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
