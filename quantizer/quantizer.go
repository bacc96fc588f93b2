// Package quantizer provides the trained artifact that maps raw embedding
// chunks to centroid codes. Nearest-centroid lookup goes through a navigable
// small world index over the vocabulary, so quantizing a chunk is sub-linear
// in the vocabulary size rather than a brute-force scan.
package quantizer

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/quiverdb/quiver/hnsw"
)

// ErrNoCentroids is returned when quantizing against an empty vocabulary.
var ErrNoCentroids = errors.New("quantizer: centroid index is empty")

// ErrChunkWidth indicates an input vector whose length is not the quantizer's
// chunk width times its code width.
type ErrChunkWidth struct {
	Expected int
	Actual   int
}

func (e *ErrChunkWidth) Error() string {
	return fmt.Sprintf("quantizer: vector length mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Quantizer is an immutable trained artifact: it splits an embedding into
// fixed-width chunks and replaces each chunk with the id of its nearest
// centroid.
type Quantizer struct {
	index     *hnsw.Index
	codeWidth int
	ef        int
}

// New wraps a built centroid index. codeWidth is the number of chunks per
// embedding; ef bounds the candidate list of each nearest-centroid query.
func New(index *hnsw.Index, codeWidth, ef int) (*Quantizer, error) {
	if index.Len() == 0 {
		return nil, ErrNoCentroids
	}
	if index.Len() > math.MaxUint16+1 {
		return nil, fmt.Errorf("quantizer: %d centroids exceed the uint16 code space", index.Len())
	}

	return &Quantizer{index: index, codeWidth: codeWidth, ef: ef}, nil
}

// Width returns the chunk width of the quantized sub-space.
func (q *Quantizer) Width() int { return q.index.Dimension() }

// CodeWidth returns the number of codes produced per embedding.
func (q *Quantizer) CodeWidth() int { return q.codeWidth }

// Index returns the underlying nearest-centroid index.
func (q *Quantizer) Index() *hnsw.Index { return q.index }

// Quantize encodes one embedding as codeWidth centroid codes, one per
// width-sized chunk.
func (q *Quantizer) Quantize(vec []float32) ([]uint16, error) {
	width := q.index.Dimension()
	if len(vec) != width*q.codeWidth {
		return nil, &ErrChunkWidth{Expected: width * q.codeWidth, Actual: len(vec)}
	}

	codes := make([]uint16, q.codeWidth)
	for k := 0; k < q.codeWidth; k++ {
		chunk := vec[k*width : (k+1)*width]

		ids, _, err := q.index.Search(chunk, 1, q.ef)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, ErrNoCentroids
		}

		codes[k] = uint16(ids[0])
	}

	return codes, nil
}

// artifact is the serialized form of a quantizer.
type artifact struct {
	CodeWidth int
	EF        int
	Index     *hnsw.Index
}

// Save persists the quantizer at path as an lz4-framed gob stream, written
// atomically.
func (q *Quantizer) Save(path string) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	zw := lz4.NewWriter(tmp)
	if err := gob.NewEncoder(zw).Encode(artifact{
		CodeWidth: q.codeWidth,
		EF:        q.ef,
		Index:     q.index,
	}); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""

	return nil
}

// Load reconstructs a quantizer persisted by Save.
func Load(path string) (*Quantizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var a artifact
	if err := gob.NewDecoder(lz4.NewReader(f)).Decode(&a); err != nil {
		return nil, fmt.Errorf("quantizer: corrupt artifact %q: %w", path, err)
	}

	return New(a.Index, a.CodeWidth, a.EF)
}
