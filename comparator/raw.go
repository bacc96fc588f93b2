package comparator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/quiverdb/quiver/core"
	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/vectorfile"
)

// streamBatchSize is the number of vectors materialized per batch when
// streaming a whole domain.
const streamBatchSize = 16384

// ErrBadMeta is returned when a comparator metadata sidecar fails to parse.
var ErrBadMeta = errors.New("comparator: invalid comparator metadata")

// EmbeddingSource is the access surface a raw comparator needs from its
// owning domain: random record reads plus chunked sequential streaming.
type EmbeddingSource interface {
	Name() string
	Dimension() int
	NumVecs() int
	Vec(id core.VectorID) ([]float32, error)
	VectorChunks(chunkSize int) *vectorfile.Loader[float32]
}

// Raw is the full-precision comparator over an uncompressed embedding
// domain. It also serves as the sampling and streaming source for
// product-quantization training.
type Raw struct {
	src EmbeddingSource
}

var _ Comparator[[]float32] = (*Raw)(nil)

// NewRaw wraps an embedding source.
func NewRaw(src EmbeddingSource) *Raw {
	return &Raw{src: src}
}

// Source returns the wrapped embedding source.
func (r *Raw) Source() EmbeddingSource { return r.src }

// Lookup delegates to the domain's random-access read.
func (r *Raw) Lookup(id core.VectorID) ([]float32, error) {
	return r.src.Vec(id)
}

// CompareRaw returns the normalized cosine distance between two embeddings:
// 1 minus their cosine similarity. Embeddings are expected to be
// pre-normalized.
func (r *Raw) CompareRaw(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	return distance.NormalizedCosine(a, b), nil
}

// Selection returns n vectors sampled without replacement from the domain.
// If the domain holds no more than n vectors, the full population is
// returned instead; that is not an error.
func (r *Raw) Selection(n int) ([][]float32, error) {
	count := r.src.NumVecs()
	if count <= n {
		return r.all()
	}

	picked := roaring64.New()
	out := make([][]float32, 0, n)

	for len(out) < n {
		candidate := uint64(rand.Int63n(int64(count)))
		if !picked.CheckedAdd(candidate) {
			continue
		}

		vec, err := r.src.Vec(core.VectorID(candidate))
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}

	return out, nil
}

// VectorChunks streams the full domain in batches of up to 16384 vectors,
// materialized from the backing file on demand. Each call starts a fresh
// pass over the records committed at call time.
func (r *Raw) VectorChunks() *vectorfile.Loader[float32] {
	return r.src.VectorChunks(streamBatchSize)
}

func (r *Raw) all() ([][]float32, error) {
	out := make([][]float32, 0, r.src.NumVecs())

	loader := r.VectorChunks()
	for {
		batch, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}

	return out, nil
}

// Meta is the metadata sidecar that re-binds a raw comparator to its owning
// domain on reload. Size is computed from the backing store at save time.
type Meta struct {
	Domain string `json:"domain"`
	Size   int    `json:"size"`
}

// SaveMeta writes the comparator's metadata sidecar to path.
func (r *Raw) SaveMeta(path string) error {
	data, err := json.Marshal(Meta{
		Domain: r.src.Name(),
		Size:   r.src.NumVecs(),
	})
	if err != nil {
		return err
	}

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

	if _, err := tmp.Write(data); err != nil {
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

// ReadMeta parses a metadata sidecar written by SaveMeta. A sidecar that
// fails to parse is a format error, never silently repaired.
func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}

	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrBadMeta, err)
	}
	if m.Domain == "" {
		return Meta{}, fmt.Errorf("%w: missing domain", ErrBadMeta)
	}

	return m, nil
}
