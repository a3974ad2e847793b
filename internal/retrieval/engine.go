package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/shape.search/internal/catalog"
	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/descriptor"
	"github.com/banshee-data/shape.search/internal/mesh"
	"github.com/banshee-data/shape.search/internal/monitoring"
	"github.com/banshee-data/shape.search/internal/timeutil"
)

// DescriptorStore persists descriptors between runs. Implementations must
// be safe for concurrent SaveDescriptor calls.
type DescriptorStore interface {
	LoadDescriptors(ctx context.Context, configHash string) ([]descriptor.Descriptor, error)
	SaveDescriptor(ctx context.Context, configHash string, e catalog.Entry, d descriptor.Descriptor) error
}

// BuildStats summarises one Engine.Build.
type BuildStats struct {
	Indexed   int           `json:"indexed"`
	Reused    int           `json:"reused"`
	Extracted int           `json:"extracted"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// Engine ties a catalog to an extractor and a similarity index.
type Engine struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	extractor *descriptor.Extractor
	weights   Weights
	store     DescriptorStore
	clock     timeutil.Clock

	mu     sync.RWMutex
	raw    map[string]descriptor.Descriptor
	scaler *descriptor.Standardizer
	index  Index
}

// NewEngine returns an engine over cat. store may be nil.
func NewEngine(cfg *config.Config, cat *catalog.Catalog, store DescriptorStore) *Engine {
	if cfg == nil {
		cfg = config.Empty()
	}
	return &Engine{
		cfg:       cfg,
		catalog:   cat,
		extractor: descriptor.NewExtractor(cfg),
		weights:   WeightsFromConfig(cfg),
		store:     store,
		clock:     timeutil.RealClock{},
		raw:       make(map[string]descriptor.Descriptor),
	}
}

// SetClock replaces the clock used to time builds and stamp evaluations.
func (e *Engine) SetClock(c timeutil.Clock) { e.clock = c }

// Catalog returns the catalog the engine indexes.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Extractor returns the descriptor extractor.
func (e *Engine) Extractor() *descriptor.Extractor { return e.extractor }

// Len returns the number of indexed shapes.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.raw)
}

// Build extracts a descriptor for every catalog entry, reusing stored
// descriptors computed with the same parameters, then fits the
// standardiser and rebuilds the index. Shapes that fail to load are logged
// and skipped.
func (e *Engine) Build(ctx context.Context) (BuildStats, error) {
	start := e.clock.Now()
	var stats BuildStats
	hash := e.extractor.ConfigHash()
	entries := e.catalog.Entries()

	cached := make(map[string]descriptor.Descriptor)
	if e.store != nil {
		stored, err := e.store.LoadDescriptors(ctx, hash)
		if err != nil {
			return stats, fmt.Errorf("load stored descriptors: %w", err)
		}
		for _, d := range stored {
			cached[d.ShapeID] = d
		}
	}

	results := make([]*descriptor.Descriptor, len(entries))
	var failed sync.Map

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.GetWorkers())
	for i, entry := range entries {
		if d, ok := cached[entry.ID]; ok {
			d.Category = entry.Category
			results[i] = &d
			stats.Reused++
			continue
		}
		g.Go(func() error {
			d, err := e.extractEntry(gctx, entry)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				monitoring.Logf("skipping %s: %v", entry.ID, err)
				failed.Store(entry.ID, err)
				return nil
			}
			if e.store != nil {
				if err := e.store.SaveDescriptor(gctx, hash, entry, d); err != nil {
					return fmt.Errorf("save descriptor %s: %w", entry.ID, err)
				}
			}
			results[i] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	raw := make(map[string]descriptor.Descriptor, len(entries))
	list := make([]descriptor.Descriptor, 0, len(entries))
	for _, d := range results {
		if d == nil {
			continue
		}
		raw[d.ShapeID] = *d
		list = append(list, *d)
	}
	failed.Range(func(_, _ any) bool {
		stats.Failed++
		return true
	})
	stats.Extracted = len(list) - stats.Reused

	scaler := descriptor.FitStandardizer(list)
	index, err := NewIndex(e.cfg.GetIndexKind(), e.weights)
	if err != nil {
		return stats, err
	}
	for _, d := range list {
		if err := index.Add(scaler.Apply(d)); err != nil {
			return stats, fmt.Errorf("index %s: %w", d.ShapeID, err)
		}
	}

	e.mu.Lock()
	e.raw = raw
	e.scaler = scaler
	e.index = index
	e.mu.Unlock()

	stats.Indexed = len(list)
	stats.Duration = e.clock.Since(start)
	monitoring.Logf("indexed %d shapes (%d reused, %d extracted, %d failed) in %s",
		stats.Indexed, stats.Reused, stats.Extracted, stats.Failed, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

func (e *Engine) extractEntry(ctx context.Context, entry catalog.Entry) (descriptor.Descriptor, error) {
	m, err := e.catalog.LoadMesh(entry)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	d, err := e.extractor.Extract(ctx, m)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	d.ShapeID = entry.ID
	d.Category = entry.Category
	monitoring.Debugf("extracted %s (%d vertices, %d faces)", entry.ID, len(m.Vertices), len(m.Faces))
	return d, nil
}

// Descriptor returns the unstandardised descriptor of an indexed shape.
func (e *Engine) Descriptor(id string) (descriptor.Descriptor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.raw[id]
	if !ok {
		return descriptor.Descriptor{}, fmt.Errorf("%w: %s", catalog.ErrShapeNotFound, id)
	}
	return d, nil
}

// Descriptors returns every indexed descriptor, unstandardised, in catalog
// order.
func (e *Engine) Descriptors() []descriptor.Descriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]descriptor.Descriptor, 0, len(e.raw))
	for _, entry := range e.catalog.Entries() {
		if d, ok := e.raw[entry.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// QueryByID ranks the database against an indexed shape, excluding the
// shape itself. k <= 0 uses the configured k.
func (e *Engine) QueryByID(ctx context.Context, id string, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := e.Descriptor(id)
	if err != nil {
		return nil, err
	}
	return e.query(d, k)
}

// QueryMesh ranks the database against a shape that need not be in it.
func (e *Engine) QueryMesh(ctx context.Context, m *mesh.Mesh, k int) ([]Match, error) {
	d, err := e.extractor.Extract(ctx, m)
	if err != nil {
		return nil, err
	}
	return e.query(d, k)
}

func (e *Engine) query(d descriptor.Descriptor, k int) ([]Match, error) {
	if k <= 0 {
		k = e.cfg.GetK()
	}
	e.mu.RLock()
	index, scaler := e.index, e.scaler
	e.mu.RUnlock()
	if index == nil {
		return nil, ErrEmptyIndex
	}
	return index.Query(scaler.Apply(d), k)
}
