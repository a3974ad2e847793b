package retrieval

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/descriptor"
)

// KDTreeIndex answers queries with a k-d tree over the flattened,
// standardised feature vector. Scalar and histogram blocks are scaled by
// their weights so the Euclidean distance in the tree approximates the
// weighting of DescriptorDistance. The tree is rebuilt lazily after Add.
type KDTreeIndex struct {
	mu      sync.Mutex
	weights Weights
	points  featurePoints
	tree    *kdtree.Tree
	dims    int
}

// NewKDTreeIndex returns an empty k-d tree index.
func NewKDTreeIndex(w Weights) *KDTreeIndex {
	return &KDTreeIndex{weights: w}
}

// Add stores d. Every descriptor in one index must have the same length.
func (ix *KDTreeIndex) Add(d descriptor.Descriptor) error {
	p := featurePoint{id: d.ShapeID, category: d.Category, v: ix.vector(d)}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.points) == 0 {
		ix.dims = len(p.v)
	} else if len(p.v) != ix.dims {
		return fmt.Errorf("%w: %s has %d features, index has %d", ErrDimensionMismatch, d.ShapeID, len(p.v), ix.dims)
	}
	ix.points = append(ix.points, p)
	ix.tree = nil
	return nil
}

// Len returns the number of stored descriptors.
func (ix *KDTreeIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.points)
}

// Query returns up to k nearest neighbours by weighted Euclidean distance.
func (ix *KDTreeIndex) Query(q descriptor.Descriptor, k int) ([]Match, error) {
	qp := featurePoint{id: q.ShapeID, v: ix.vector(q)}

	ix.mu.Lock()
	n := len(ix.points)
	if n == 0 {
		ix.mu.Unlock()
		return nil, ErrEmptyIndex
	}
	if len(qp.v) != ix.dims {
		ix.mu.Unlock()
		return nil, fmt.Errorf("%w: query has %d features, index has %d", ErrDimensionMismatch, len(qp.v), ix.dims)
	}
	if ix.tree == nil {
		// kdtree.New reorders its input, so build from a copy.
		ix.tree = kdtree.New(append(featurePoints(nil), ix.points...), false)
	}
	tree := ix.tree
	ix.mu.Unlock()

	want := k
	if want <= 0 || want > n {
		want = n
	}
	if q.ShapeID != "" && want < n {
		want++ // room for the query itself
	}
	keep := kdtree.NewNKeeper(want)
	tree.NearestSet(keep, qp)

	matches := make([]Match, 0, len(keep.Heap))
	for _, c := range keep.Heap {
		if c.Comparable == nil {
			continue
		}
		p := c.Comparable.(featurePoint)
		if q.ShapeID != "" && p.id == q.ShapeID {
			continue
		}
		matches = append(matches, Match{ShapeID: p.id, Category: p.category, Distance: math.Sqrt(c.Dist)})
	}
	return rank(matches, k), nil
}

func (ix *KDTreeIndex) vector(d descriptor.Descriptor) []float64 {
	scalar := ix.weights.Scalar
	v := d.ScalarVector()
	for i := range v {
		v[i] *= scalar
	}
	for _, name := range config.HistogramNames {
		w := ix.weights.Histograms[name]
		for _, x := range d.Histograms[name] {
			v = append(v, w*x)
		}
	}
	return v
}

// featurePoint is a kdtree.Comparable over a feature vector.
type featurePoint struct {
	id       string
	category string
	v        []float64
}

func (p featurePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.v[d] - c.(featurePoint).v[d]
}

func (p featurePoint) Dims() int { return len(p.v) }

// Distance returns the squared Euclidean distance.
func (p featurePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(featurePoint)
	var sum float64
	for i, x := range p.v {
		d := x - q.v[i]
		sum += d * d
	}
	return sum
}

// featurePoints satisfies kdtree.Interface.
type featurePoints []featurePoint

func (p featurePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p featurePoints) Len() int                              { return len(p) }
func (p featurePoints) Pivot(d kdtree.Dim) int                { return featurePlane{Dim: d, featurePoints: p}.Pivot() }
func (p featurePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type featurePlane struct {
	kdtree.Dim
	featurePoints
}

func (p featurePlane) Less(i, j int) bool {
	return p.featurePoints[i].v[p.Dim] < p.featurePoints[j].v[p.Dim]
}
func (p featurePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p featurePlane) Slice(start, end int) kdtree.SortSlicer {
	p.featurePoints = p.featurePoints[start:end]
	return p
}
func (p featurePlane) Swap(i, j int) {
	p.featurePoints[i], p.featurePoints[j] = p.featurePoints[j], p.featurePoints[i]
}
