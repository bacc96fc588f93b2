package comparator

import (
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/quiverdb/quiver/core"
	"github.com/quiverdb/quiver/vectorfile"
)

// File names of the two co-located artifacts a quantized comparator persists
// under one directory.
const (
	CentroidFileName = "centroids"
	VectorsFileName  = "vectors"
)

// QuantizedComparator stores embeddings compressed as sequences of
// centroid-index codes and answers approximate distances using only the
// bound centroid engine's memoized table.
//
// The approximate distance is sqrt of the sum of per-chunk partial
// distances. The additive decomposition is exact for Euclidean distance over
// disjoint chunks; the approximation comes from each chunk having been
// replaced by its nearest centroid at encode time.
type QuantizedComparator struct {
	cc        *CentroidComparator
	codeWidth int

	mu    sync.RWMutex
	codes [][]uint16
}

var _ Comparator[[]uint16] = (*QuantizedComparator)(nil)
var _ PartialDistance = (*QuantizedComparator)(nil)

// NewQuantizedComparator creates an empty quantized store bound to cc.
// codeWidth is the number of centroid codes per record, one per chunk of the
// source embedding.
func NewQuantizedComparator(cc *CentroidComparator, codeWidth int) *QuantizedComparator {
	return &QuantizedComparator{cc: cc, codeWidth: codeWidth}
}

// Engine returns the bound centroid comparator.
func (q *QuantizedComparator) Engine() *CentroidComparator { return q.cc }

// CodeWidth returns the number of codes per stored record.
func (q *QuantizedComparator) CodeWidth() int { return q.codeWidth }

// Len returns the number of stored quantized records.
func (q *QuantizedComparator) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.codes)
}

// Lookup resolves the quantized record at id. Stored rows are never mutated
// after insertion, so the returned slice stays valid across later appends.
func (q *QuantizedComparator) Lookup(id core.VectorID) ([]uint16, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if int(id) >= len(q.codes) {
		return nil, &ErrOutOfRange{ID: id, Count: len(q.codes)}
	}

	return q.codes[id], nil
}

// CompareRaw returns the approximate distance between two quantized records:
// sqrt of the summed per-chunk partial distances.
func (q *QuantizedComparator) CompareRaw(a, b []uint16) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}

	var sum float32
	for k := range a {
		sum += q.cc.PartialDistance(a[k], b[k])
	}

	return float32(math.Sqrt(float64(sum))), nil
}

// PartialDistance delegates to the bound centroid engine.
func (q *QuantizedComparator) PartialDistance(i, j uint16) float32 {
	return q.cc.PartialDistance(i, j)
}

// Store appends quantized records and returns their assigned VectorIDs in
// insertion order, starting at the current length. The records are copied.
func (q *QuantizedComparator) Store(recs [][]uint16) ([]core.VectorID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]core.VectorID, 0, len(recs))
	for _, rec := range recs {
		if len(rec) != q.codeWidth {
			return nil, &ErrDimensionMismatch{Expected: q.codeWidth, Actual: len(rec)}
		}
		ids = append(ids, core.VectorID(len(q.codes)))
		q.codes = append(q.codes, append([]uint16(nil), rec...))
	}

	return ids, nil
}

// Save persists the comparator as one unit under dir: the centroid engine's
// serialized form next to a raw dump of the quantized-record list.
func (q *QuantizedComparator) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := q.cc.Save(filepath.Join(dir, CentroidFileName)); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	return vectorfile.Write(filepath.Join(dir, VectorsFileName), q.codeWidth, q.codes)
}

// LoadQuantizedComparator reconstructs a quantized comparator persisted by
// Save. Fails with a format error if either file's size is not an exact
// multiple of its record width.
func LoadQuantizedComparator(dir string, width, codeWidth int) (*QuantizedComparator, error) {
	cc, err := LoadCentroidComparator(filepath.Join(dir, CentroidFileName), width)
	if err != nil {
		return nil, err
	}

	f, err := vectorfile.OpenExisting[uint16](filepath.Join(dir, VectorsFileName), codeWidth)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	codes, err := f.All()
	if err != nil {
		return nil, err
	}

	return &QuantizedComparator{
		cc:        cc,
		codeWidth: codeWidth,
		codes:     codes,
	}, nil
}
