package retrieval

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/descriptor"
)

// Match is one ranked query result.
type Match struct {
	ShapeID  string  `json:"shape_id"`
	Category string  `json:"category"`
	Distance float64 `json:"distance"`
	Rank     int     `json:"rank"` // 1-based
}

// Index stores standardised descriptors and answers k-nearest queries.
// A query whose ShapeID is set never matches the entry with the same ID.
type Index interface {
	Add(d descriptor.Descriptor) error
	Query(q descriptor.Descriptor, k int) ([]Match, error)
	Len() int
}

// NewIndex returns an empty index of the given kind.
func NewIndex(kind string, w Weights) (Index, error) {
	switch kind {
	case config.IndexLinear, "":
		return NewLinearIndex(w), nil
	case config.IndexKDTree:
		return NewKDTreeIndex(w), nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
}

// LinearIndex compares the query with every stored descriptor using
// DescriptorDistance. Results are exact.
type LinearIndex struct {
	mu      sync.RWMutex
	weights Weights
	items   []descriptor.Descriptor
}

// NewLinearIndex returns an empty exact index.
func NewLinearIndex(w Weights) *LinearIndex {
	return &LinearIndex{weights: w}
}

// Add stores d.
func (ix *LinearIndex) Add(d descriptor.Descriptor) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.items = append(ix.items, d)
	return nil
}

// Len returns the number of stored descriptors.
func (ix *LinearIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.items)
}

// Query returns up to k matches ordered by ascending distance, ties broken
// by ShapeID.
func (ix *LinearIndex) Query(q descriptor.Descriptor, k int) ([]Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.items) == 0 {
		return nil, ErrEmptyIndex
	}
	matches := make([]Match, 0, len(ix.items))
	for _, d := range ix.items {
		if q.ShapeID != "" && d.ShapeID == q.ShapeID {
			continue
		}
		dist, err := DescriptorDistance(q, d, ix.weights)
		if err != nil {
			return nil, fmt.Errorf("compare with %s: %w", d.ShapeID, err)
		}
		matches = append(matches, Match{ShapeID: d.ShapeID, Category: d.Category, Distance: dist})
	}
	return rank(matches, k), nil
}

// rank sorts matches, truncates to k (k <= 0 keeps all) and numbers them.
func rank(matches []Match, k int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ShapeID < matches[j].ShapeID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches
}
