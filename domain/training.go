package domain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quiverdb/quiver/comparator"
	"github.com/quiverdb/quiver/hnsw"
	"github.com/quiverdb/quiver/internal/kmeans"
	"github.com/quiverdb/quiver/quantizer"
	"github.com/quiverdb/quiver/vectorfile"
)

// File names of the two artifacts a product-quantized representation keeps
// under its derived directory.
const (
	QuantizerFileName = "quantizer"
	VectorsFileName   = "vectors"
)

// ErrLockstep is returned when a derived file's length disagrees with the
// primary store it belongs to.
var ErrLockstep = errors.New("domain: derived representation out of lockstep with primary store")

// TrainerOptions configures product-quantization training.
type TrainerOptions struct {
	// MaxCentroids caps the vocabulary size per sub-space.
	MaxCentroids int

	// SampleSize caps the number of embeddings sampled for training.
	SampleSize int

	// MaxIterations bounds the clustering refinement loop.
	MaxIterations int

	// Seed makes sampling, clustering and index construction
	// reproducible.
	Seed int64

	// M and EFConstruction configure the nearest-centroid index build.
	M              int
	EFConstruction int

	// EFSearch bounds the candidate list of each nearest-centroid query
	// at quantization time.
	EFSearch int
}

// DefaultTrainerOptions are the training defaults.
var DefaultTrainerOptions = TrainerOptions{
	MaxCentroids:   1000,
	SampleSize:     1000,
	MaxIterations:  25,
	Seed:           42,
	M:              24,
	EFConstruction: 48,
	EFSearch:       36,
}

// CreateDerived trains a product-quantized representation over the domain's
// current contents and registers it under name. width is the sub-space chunk
// width and must divide the embedding dimension exactly.
//
// Already-stored embeddings are quantized before the representation becomes
// visible, so it starts out in lockstep with the primary store. Creating a
// second representation under the same name fails with ErrDeriverExists and
// leaves the first untouched. On any training failure the derived directory
// is removed.
func (d *Domain) CreateDerived(name string, width int, optFns ...func(o *TrainerOptions)) (*PQDeriver, error) {
	opts := DefaultTrainerOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if width <= 0 || d.dim%width != 0 {
		return nil, fmt.Errorf("domain: chunk width %d does not divide dimension %d", width, d.dim)
	}
	codeWidth := d.dim / width

	// Creation serializes with concatenations so the backfill below sees a
	// stable primary store.
	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	d.dmu.RLock()
	_, exists := d.derived[name]
	d.dmu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrDeriverExists, name)
	}

	dir := d.derivedDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	der, err := d.trainDerived(dir, width, codeWidth, opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	if err := d.register(name, der); err != nil {
		_ = der.Close()
		_ = os.RemoveAll(dir)
		return nil, err
	}

	return der, nil
}

func (d *Domain) trainDerived(dir string, width, codeWidth int, opts TrainerOptions) (*PQDeriver, error) {
	sample, err := comparator.NewRaw(d).Selection(opts.SampleSize)
	if err != nil {
		return nil, err
	}

	// Every width-sized chunk of every sampled embedding is one clustering
	// observation.
	data := make([]float32, 0, len(sample)*d.dim)
	for _, vec := range sample {
		data = append(data, vec...)
	}

	k := min(opts.MaxCentroids, len(sample)*codeWidth)
	centroids, err := kmeans.Train(data, width, k, opts.MaxIterations, opts.Seed)
	if err != nil {
		return nil, err
	}

	cc, err := comparator.NewCentroidComparator(width, centroids)
	if err != nil {
		return nil, err
	}

	index, err := hnsw.New(width, func(o *hnsw.Options) {
		o.M = opts.M
		o.EFConstruction = opts.EFConstruction
		o.Seed = opts.Seed
	})
	if err != nil {
		return nil, err
	}
	for _, c := range centroids {
		if _, err := index.Insert(c); err != nil {
			return nil, err
		}
	}
	index.Improve()

	q, err := quantizer.New(index, codeWidth, opts.EFSearch)
	if err != nil {
		return nil, err
	}
	if err := q.Save(filepath.Join(dir, QuantizerFileName)); err != nil {
		return nil, err
	}

	file, err := vectorfile.Open[uint16](filepath.Join(dir, VectorsFileName), codeWidth)
	if err != nil {
		return nil, err
	}

	der := NewPQDeriver(file, q, cc)

	if err := der.ConcatenateDerived(d.file.Chunks(der.ChunkSize())); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := der.Sync(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return der, nil
}

// OpenDerived loads the persisted product-quantized representation called
// name and registers it. The code file must be in lockstep with the primary
// store.
func (d *Domain) OpenDerived(name string) (*PQDeriver, error) {
	dir := d.derivedDir(name)

	q, err := quantizer.Load(filepath.Join(dir, QuantizerFileName))
	if err != nil {
		return nil, err
	}

	codeWidth := q.CodeWidth()
	if q.Width()*codeWidth != d.dim {
		return nil, fmt.Errorf("domain: quantizer covers dimension %d, domain has %d", q.Width()*codeWidth, d.dim)
	}

	file, err := vectorfile.OpenExisting[uint16](filepath.Join(dir, VectorsFileName), codeWidth)
	if err != nil {
		return nil, err
	}

	if file.NumVecs() != d.NumVecs() {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %d codes for %d embeddings", ErrLockstep, file.NumVecs(), d.NumVecs())
	}

	index := q.Index()
	centroids := make([][]float32, index.Len())
	for i := range centroids {
		v, err := index.Vector(uint32(i))
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		centroids[i] = v
	}

	cc, err := comparator.NewCentroidComparator(q.Width(), centroids)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	der := NewPQDeriver(file, q, cc)

	if err := d.register(name, der); err != nil {
		_ = file.Close()
		return nil, err
	}

	return der, nil
}
