package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/shapes.defaults.json"

// Index kinds accepted by IndexKind.
const (
	IndexLinear = "linear"
	IndexKDTree = "kdtree"
)

// Scalar distance metrics accepted by ScalarMetric.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// HistogramNames lists the shape-property distributions, in export order.
var HistogramNames = []string{"A3", "D1", "D2", "D3", "D4"}

// Config holds descriptor extraction and retrieval parameters. Every field
// is optional; the Get* accessors supply defaults for missing values so a
// partial JSON file is safe.
type Config struct {
	// Descriptor extraction
	SampleCount    *int    `json:"sample_count,omitempty"`
	HistogramBins  *int    `json:"histogram_bins,omitempty"`
	Seed           *uint64 `json:"seed,omitempty"`
	NormalizeAlign *bool   `json:"normalize_align,omitempty"`
	NormalizeFlip  *bool   `json:"normalize_flip,omitempty"`

	// Retrieval
	K                *int               `json:"k,omitempty"`
	IndexKind        *string            `json:"index_kind,omitempty"`
	ScalarMetric     *string            `json:"scalar_metric,omitempty"`
	ScalarWeight     *float64           `json:"scalar_weight,omitempty"`
	HistogramWeights map[string]float64 `json:"histogram_weights,omitempty"`

	// Worker pool used when building the index
	Workers *int `json:"workers,omitempty"`
}

func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Default returns a Config with every field populated from the built-in
// defaults.
func Default() *Config {
	c := Empty()
	return &Config{
		SampleCount:    ptrInt(c.GetSampleCount()),
		HistogramBins:  ptrInt(c.GetHistogramBins()),
		Seed:           ptrUint64(c.GetSeed()),
		NormalizeAlign: ptrBool(c.GetNormalizeAlign()),
		NormalizeFlip:  ptrBool(c.GetNormalizeFlip()),
		K:              ptrInt(c.GetK()),
		IndexKind:      ptrString(c.GetIndexKind()),
		ScalarMetric:   ptrString(c.GetScalarMetric()),
		ScalarWeight:   ptrFloat64(c.GetScalarWeight()),
		Workers:        ptrInt(c.GetWorkers()),
	}
}

// LoadConfig loads a Config from a JSON file and validates it.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if c.SampleCount != nil && *c.SampleCount < 10 {
		return fmt.Errorf("sample_count must be at least 10, got %d", *c.SampleCount)
	}
	if c.HistogramBins != nil && (*c.HistogramBins < 2 || *c.HistogramBins > 256) {
		return fmt.Errorf("histogram_bins must be between 2 and 256, got %d", *c.HistogramBins)
	}
	if c.K != nil && *c.K < 1 {
		return fmt.Errorf("k must be positive, got %d", *c.K)
	}
	if c.IndexKind != nil {
		switch *c.IndexKind {
		case IndexLinear, IndexKDTree:
		default:
			return fmt.Errorf("index_kind must be %q or %q, got %q", IndexLinear, IndexKDTree, *c.IndexKind)
		}
	}
	if c.ScalarMetric != nil {
		switch *c.ScalarMetric {
		case MetricEuclidean, MetricCosine:
		default:
			return fmt.Errorf("scalar_metric must be %q or %q, got %q", MetricEuclidean, MetricCosine, *c.ScalarMetric)
		}
	}
	if c.ScalarWeight != nil && *c.ScalarWeight < 0 {
		return fmt.Errorf("scalar_weight must be non-negative, got %f", *c.ScalarWeight)
	}
	for name, w := range c.HistogramWeights {
		if !isHistogramName(name) {
			return fmt.Errorf("unknown histogram %q in histogram_weights", name)
		}
		if w < 0 {
			return fmt.Errorf("histogram weight for %s must be non-negative, got %f", name, w)
		}
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", *c.Workers)
	}
	return nil
}

func isHistogramName(name string) bool {
	for _, n := range HistogramNames {
		if n == name {
			return true
		}
	}
	return false
}

// GetSampleCount returns the number of random samples per distribution.
func (c *Config) GetSampleCount() int {
	if c.SampleCount == nil {
		return 5000
	}
	return *c.SampleCount
}

// GetHistogramBins returns the number of bins per distribution.
func (c *Config) GetHistogramBins() int {
	if c.HistogramBins == nil {
		return 16
	}
	return *c.HistogramBins
}

// GetSeed returns the sampling seed.
func (c *Config) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetNormalizeAlign reports whether PCA alignment is applied before extraction.
func (c *Config) GetNormalizeAlign() bool {
	if c.NormalizeAlign == nil {
		return true
	}
	return *c.NormalizeAlign
}

// GetNormalizeFlip reports whether the moment flip is applied before extraction.
func (c *Config) GetNormalizeFlip() bool {
	if c.NormalizeFlip == nil {
		return true
	}
	return *c.NormalizeFlip
}

// GetK returns the default number of matches per query.
func (c *Config) GetK() int {
	if c.K == nil {
		return 10
	}
	return *c.K
}

// GetIndexKind returns the index implementation name.
func (c *Config) GetIndexKind() string {
	if c.IndexKind == nil {
		return IndexLinear
	}
	return *c.IndexKind
}

// GetScalarMetric returns the distance used between scalar feature vectors.
func (c *Config) GetScalarMetric() string {
	if c.ScalarMetric == nil {
		return MetricEuclidean
	}
	return *c.ScalarMetric
}

// GetScalarWeight returns the weight of the scalar feature distance.
func (c *Config) GetScalarWeight() float64 {
	if c.ScalarWeight == nil {
		return 1.0
	}
	return *c.ScalarWeight
}

// GetHistogramWeight returns the weight of one distribution's distance.
func (c *Config) GetHistogramWeight(name string) float64 {
	if w, ok := c.HistogramWeights[name]; ok {
		return w
	}
	return 1.0
}

// GetWorkers returns the extraction worker count.
func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// DescriptorHash identifies the extraction parameters. Descriptors stored
// under a different hash were computed with different settings and must not
// be mixed with fresh ones.
func (c *Config) DescriptorHash() string {
	key := fmt.Sprintf("samples=%d;bins=%d;seed=%d;align=%t;flip=%t",
		c.GetSampleCount(), c.GetHistogramBins(), c.GetSeed(),
		c.GetNormalizeAlign(), c.GetNormalizeFlip())
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
