// Package domain manages named embedding collections backed by append-only
// vector files, together with the derived representations kept in lockstep
// with them.
package domain

import (
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quiverdb/quiver/core"
	"github.com/quiverdb/quiver/vectorfile"
)

// FileSuffix is the on-disk suffix of a primary domain file.
const FileSuffix = ".vecs"

// Domain is one named embedding collection. The primary store is an
// append-only vector file; any number of derived representations can be
// registered against it and are extended in lockstep with every append.
type Domain struct {
	name string
	dim  int
	file *vectorfile.File[float32]

	appendMu sync.Mutex // serializes concatenations

	dmu     sync.RWMutex
	derived map[string]Deriver
}

// Open opens the domain called name under dir, creating its backing file if
// absent. The file name is the percent-encoded domain name, so names with
// path separators stay single path segments.
func Open(dir, name string, dim int) (*Domain, error) {
	path := filepath.Join(dir, url.PathEscape(name)+FileSuffix)

	f, err := vectorfile.Open[float32](path, dim)
	if err != nil {
		return nil, err
	}

	return &Domain{
		name:    name,
		dim:     dim,
		file:    f,
		derived: make(map[string]Deriver),
	}, nil
}

// Name returns the domain's logical name.
func (d *Domain) Name() string { return d.name }

// Dimension returns the embedding dimension.
func (d *Domain) Dimension() int { return d.dim }

// Path returns the primary file's path on disk.
func (d *Domain) Path() string { return d.file.Path() }

// NumVecs returns the number of committed embeddings.
func (d *Domain) NumVecs() int { return d.file.NumVecs() }

// Vec reads the embedding at id.
func (d *Domain) Vec(id core.VectorID) ([]float32, error) {
	return d.file.Vec(id)
}

// Range reads the half-open embedding range [start, end).
func (d *Domain) Range(start, end int) ([][]float32, error) {
	return d.file.Range(start, end)
}

// All reads every committed embedding into memory.
func (d *Domain) All() ([][]float32, error) {
	return d.file.All()
}

// VectorChunks returns a sequential loader over the embeddings committed at
// call time, in batches of up to chunkSize.
func (d *Domain) VectorChunks(chunkSize int) *vectorfile.Loader[float32] {
	return d.file.Chunks(chunkSize)
}

// Concatenate appends every embedding in the vector file at path to the
// domain and returns the half-open VectorID range assigned to them.
//
// Every registered derived representation is extended first, and the primary
// append happens only after all of them succeed. On any derivation failure
// the derived files are truncated back to their prior lengths and the
// primary store is left untouched, so readers never observe a derived
// collection shorter than the primary one.
func (d *Domain) Concatenate(path string) (core.VectorID, core.VectorID, error) {
	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	src, err := vectorfile.OpenExisting[float32](path, d.dim)
	if err != nil {
		return 0, 0, err
	}
	defer src.Close()

	start := core.VectorID(d.file.NumVecs())
	if src.NumVecs() == 0 {
		return start, start, nil
	}

	d.dmu.RLock()
	derivers := make([]Deriver, 0, len(d.derived))
	for _, der := range d.derived {
		derivers = append(derivers, der)
	}
	d.dmu.RUnlock()

	preCounts := make([]int, len(derivers))
	for i, der := range derivers {
		preCounts[i] = der.NumVecs()
	}

	var g errgroup.Group
	for _, der := range derivers {
		g.Go(func() error {
			return der.ConcatenateDerived(src.Chunks(der.ChunkSize()))
		})
	}

	if err := g.Wait(); err != nil {
		for i, der := range derivers {
			_ = der.Truncate(preCounts[i])
		}
		return 0, 0, err
	}

	end, err := d.file.AppendFile(src)
	if err != nil {
		// The primary append failed after the derivations committed;
		// roll the derived files back to match.
		for i, der := range derivers {
			_ = der.Truncate(preCounts[i])
		}
		return 0, 0, err
	}

	return start, core.VectorID(end), nil
}

// Sync flushes the primary file to stable storage.
func (d *Domain) Sync() error { return d.file.Sync() }

// Close closes the primary file handle. Derived files are owned by their
// derivers and closed through them.
func (d *Domain) Close() error { return d.file.Close() }

// derivedDir is the directory holding the artifacts of one derived
// representation, keyed by the percent-encoded derived name next to the
// primary file.
func (d *Domain) derivedDir(name string) string {
	base := strings.TrimSuffix(d.file.Path(), FileSuffix)
	return filepath.Join(base+".derived", url.PathEscape(name))
}
