package comparator

import (
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/quiverdb/quiver/core"
	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/vectorfile"
)

// ErrVocabularyFull is returned when extending a centroid vocabulary past
// the uint16 code space.
var ErrVocabularyFull = errors.New("comparator: centroid vocabulary exceeds uint16 code space")

// centroidSnapshot pairs a centroid list with the complete pairwise
// squared-distance table over it. Snapshots are immutable after publication:
// readers always observe a self-consistent (list, table) pair.
type centroidSnapshot struct {
	centroids [][]float32
	table     []float32
}

// CentroidComparator owns the reference vocabulary for one
// product-quantization sub-space and memoizes the full pairwise
// squared-distance table over it.
//
// Concurrency is copy-on-write: distance queries read an atomically
// published snapshot without locking, while Extend clones the vocabulary,
// rebuilds the table and publishes both together. The O(n²) rebuild is
// acceptable because vocabularies stay small and extension happens only
// during training, never on the query path.
type CentroidComparator struct {
	width int

	mu   sync.Mutex // serializes extensions
	snap atomic.Pointer[centroidSnapshot]
}

var _ Comparator[[]float32] = (*CentroidComparator)(nil)
var _ PartialDistance = (*CentroidComparator)(nil)

// NewCentroidComparator builds an engine of the given chunk width over the
// initial vocabulary. The centroids are copied.
func NewCentroidComparator(width int, centroids [][]float32) (*CentroidComparator, error) {
	if width <= 0 {
		return nil, &ErrDimensionMismatch{Expected: 1, Actual: width}
	}
	if len(centroids) > math.MaxUint16+1 {
		return nil, ErrVocabularyFull
	}

	cloned := make([][]float32, len(centroids))
	for i, c := range centroids {
		if len(c) != width {
			return nil, &ErrDimensionMismatch{Expected: width, Actual: len(c)}
		}
		cloned[i] = append([]float32(nil), c...)
	}

	c := &CentroidComparator{width: width}
	c.snap.Store(&centroidSnapshot{
		centroids: cloned,
		table:     buildTable(cloned),
	})

	return c, nil
}

// Width returns the sub-space chunk width.
func (c *CentroidComparator) Width() int { return c.width }

// Len returns the number of centroids in the vocabulary.
func (c *CentroidComparator) Len() int {
	return len(c.snap.Load().centroids)
}

// Centroids returns the current vocabulary. The returned slices alias the
// live snapshot and must not be mutated.
func (c *CentroidComparator) Centroids() [][]float32 {
	return c.snap.Load().centroids
}

// Lookup resolves the centroid at id from the current snapshot without
// copying.
func (c *CentroidComparator) Lookup(id core.VectorID) ([]float32, error) {
	snap := c.snap.Load()
	if int(id) >= len(snap.centroids) {
		return nil, &ErrOutOfRange{ID: id, Count: len(snap.centroids)}
	}
	return snap.centroids[id], nil
}

// CompareRaw returns the Euclidean distance between two centroids.
func (c *CentroidComparator) CompareRaw(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	return distance.Euclidean(a, b), nil
}

// PartialDistance returns the memoized squared Euclidean distance between
// centroids i and j in O(1). Both codes must be valid ids into the current
// vocabulary; an out-of-range code is a programming error and panics.
func (c *CentroidComparator) PartialDistance(i, j uint16) float32 {
	snap := c.snap.Load()
	n := len(snap.centroids)
	return snap.table[int(i)*n+int(j)]
}

// Extend appends centroids to the vocabulary and publishes a fresh snapshot
// with a fully rebuilt distance table. Partial distances among previously
// stored centroids are unchanged. Returns the VectorIDs assigned to the new
// centroids in insertion order.
func (c *CentroidComparator) Extend(centroids [][]float32) ([]core.VectorID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.snap.Load()
	if len(old.centroids)+len(centroids) > math.MaxUint16+1 {
		return nil, ErrVocabularyFull
	}

	next := make([][]float32, 0, len(old.centroids)+len(centroids))
	next = append(next, old.centroids...)

	ids := make([]core.VectorID, 0, len(centroids))
	for _, v := range centroids {
		if len(v) != c.width {
			return nil, &ErrDimensionMismatch{Expected: c.width, Actual: len(v)}
		}
		ids = append(ids, core.VectorID(len(next)))
		next = append(next, append([]float32(nil), v...))
	}

	c.snap.Store(&centroidSnapshot{
		centroids: next,
		table:     buildTable(next),
	})

	return ids, nil
}

// Save persists the vocabulary as a raw little-endian concatenation of
// fixed-width float records with no header.
func (c *CentroidComparator) Save(path string) error {
	return vectorfile.Write(path, c.width, c.snap.Load().centroids)
}

// LoadCentroidComparator reconstructs an engine from a file written by Save,
// rebuilding the full distance table. Fails with a format error if the file
// size is not an exact multiple of the record width.
func LoadCentroidComparator(path string, width int) (*CentroidComparator, error) {
	f, err := vectorfile.OpenExisting[float32](path, width)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	centroids, err := f.All()
	if err != nil {
		return nil, err
	}

	return NewCentroidComparator(width, centroids)
}

// buildTable computes the complete pairwise squared-distance table, one row
// per centroid, rows computed in parallel.
func buildTable(centroids [][]float32) []float32 {
	n := len(centroids)
	table := make([]float32, n*n)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range centroids {
		g.Go(func() error {
			row := table[i*n : (i+1)*n]
			for j := range centroids {
				row[j] = distance.SquaredL2(centroids[i], centroids[j])
			}
			return nil
		})
	}

	// Row workers cannot fail; Wait only joins them.
	_ = g.Wait()

	return table
}
