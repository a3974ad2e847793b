package descriptor

import (
	"context"
	"fmt"

	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/mesh"
)

// Extractor computes descriptors with a fixed set of extraction parameters.
// It is safe for concurrent use.
type Extractor struct {
	samples int
	bins    int
	seed    uint64
	opts    mesh.NormalizeOptions
	hash    string
}

// NewExtractor captures the extraction parameters of cfg.
func NewExtractor(cfg *config.Config) *Extractor {
	if cfg == nil {
		cfg = config.Empty()
	}
	opts := mesh.DefaultNormalizeOptions()
	opts.Align = cfg.GetNormalizeAlign()
	opts.Flip = cfg.GetNormalizeFlip()
	return &Extractor{
		samples: cfg.GetSampleCount(),
		bins:    cfg.GetHistogramBins(),
		seed:    cfg.GetSeed(),
		opts:    opts,
		hash:    cfg.DescriptorHash(),
	}
}

// ConfigHash identifies the extraction parameters. Descriptors stored under
// a different hash are not comparable with this extractor's output.
func (e *Extractor) ConfigHash() string { return e.hash }

// Extract normalises m and computes its descriptor. The caller fills in
// ShapeID and Category.
func (e *Extractor) Extract(ctx context.Context, m *mesh.Mesh) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}
	norm, _, err := mesh.Normalize(m, e.opts)
	if err != nil {
		return Descriptor{}, fmt.Errorf("normalize: %w", err)
	}

	scalars := Scalars(norm)
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Scalars:    scalars,
		Histograms: Histograms(norm, e.samples, e.bins, e.seed),
	}, nil
}
