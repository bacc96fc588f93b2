package domain

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/quiverdb/quiver/comparator"
	"github.com/quiverdb/quiver/core"
	"github.com/quiverdb/quiver/quantizer"
	"github.com/quiverdb/quiver/vectorfile"
)

// deriveChunkSize is the number of source embeddings a deriver processes per
// batch during lockstep extension.
const deriveChunkSize = 1000

var (
	// ErrUnknownDeriver is returned when looking up a derived
	// representation that was never created on the domain.
	ErrUnknownDeriver = errors.New("domain: unknown derived representation")

	// ErrDeriverExists is returned when creating a derived representation
	// under a name already in use. The existing representation is left
	// untouched.
	ErrDeriverExists = errors.New("domain: derived representation already exists")
)

// ErrDeriverType indicates a typed lookup whose registered deriver is of a
// different concrete type.
type ErrDeriverType struct {
	Name string
	Got  any
}

func (e *ErrDeriverType) Error() string {
	return fmt.Sprintf("domain: derived representation %q has type %T", e.Name, e.Got)
}

// Deriver maintains one derived representation of a domain in lockstep with
// the primary store: it is extended before every primary append and rolled
// back if any sibling fails.
type Deriver interface {
	// NumVecs returns the number of derived records.
	NumVecs() int

	// ChunkSize returns the source batch size the deriver wants to
	// consume during extension.
	ChunkSize() int

	// ConcatenateDerived consumes the pending source embeddings from
	// loader and appends their derived form.
	ConcatenateDerived(loader *vectorfile.Loader[float32]) error

	// Truncate discards derived records at position count and beyond.
	Truncate(count int) error
}

// register binds der under name. The caller must not hold d.dmu.
func (d *Domain) register(name string, der Deriver) error {
	d.dmu.Lock()
	defer d.dmu.Unlock()

	if _, ok := d.derived[name]; ok {
		return ErrDeriverExists
	}
	d.derived[name] = der

	return nil
}

// Deriver returns the derived representation registered under name.
func (d *Domain) Deriver(name string) (Deriver, error) {
	d.dmu.RLock()
	defer d.dmu.RUnlock()

	der, ok := d.derived[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeriver, name)
	}

	return der, nil
}

// Derived resolves the derived representation registered under name as its
// concrete type D. A registered deriver of a different type is an error, not
// a panic.
func Derived[D Deriver](d *Domain, name string) (D, error) {
	var zero D

	der, err := d.Deriver(name)
	if err != nil {
		return zero, err
	}

	typed, ok := der.(D)
	if !ok {
		return zero, &ErrDeriverType{Name: name, Got: der}
	}

	return typed, nil
}

// PQDeriver keeps a product-quantized representation of a domain: every
// primary embedding has exactly one code record in the backing file, in the
// same position.
type PQDeriver struct {
	file *vectorfile.File[uint16]
	q    *quantizer.Quantizer
	cc   *comparator.CentroidComparator
}

var _ Deriver = (*PQDeriver)(nil)

// NewPQDeriver binds a code file to its trained quantizer and centroid
// engine.
func NewPQDeriver(file *vectorfile.File[uint16], q *quantizer.Quantizer, cc *comparator.CentroidComparator) *PQDeriver {
	return &PQDeriver{file: file, q: q, cc: cc}
}

// Quantizer returns the trained quantizer.
func (p *PQDeriver) Quantizer() *quantizer.Quantizer { return p.q }

// Engine returns the centroid comparator the codes refer into.
func (p *PQDeriver) Engine() *comparator.CentroidComparator { return p.cc }

// NumVecs returns the number of quantized records.
func (p *PQDeriver) NumVecs() int { return p.file.NumVecs() }

// ChunkSize returns the source batch size consumed per derivation step.
func (p *PQDeriver) ChunkSize() int { return deriveChunkSize }

// Codes reads the quantized record at id.
func (p *PQDeriver) Codes(id core.VectorID) ([]uint16, error) {
	return p.file.Vec(id)
}

// Distance returns the approximate distance between two stored embeddings,
// computed from their codes and the memoized centroid table alone.
func (p *PQDeriver) Distance(a, b core.VectorID) (float32, error) {
	ca, err := p.file.Vec(a)
	if err != nil {
		return 0, err
	}
	cb, err := p.file.Vec(b)
	if err != nil {
		return 0, err
	}

	var sum float32
	for k := range ca {
		sum += p.cc.PartialDistance(ca[k], cb[k])
	}

	return float32(math.Sqrt(float64(sum))), nil
}

// ConcatenateDerived quantizes the pending source embeddings batch by batch
// and appends their codes.
func (p *PQDeriver) ConcatenateDerived(loader *vectorfile.Loader[float32]) error {
	for {
		batch, err := loader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		codes := make([][]uint16, 0, len(batch))
		for _, vec := range batch {
			c, err := p.q.Quantize(vec)
			if err != nil {
				return err
			}
			codes = append(codes, c)
		}

		if _, err := p.file.Append(codes); err != nil {
			return err
		}
	}
}

// Truncate discards quantized records at position count and beyond.
func (p *PQDeriver) Truncate(count int) error {
	return p.file.Truncate(count)
}

// Sync flushes the code file to stable storage.
func (p *PQDeriver) Sync() error { return p.file.Sync() }

// Close closes the code file handle.
func (p *PQDeriver) Close() error { return p.file.Close() }
