// Package comparator defines the distance-comparison contract shared by raw
// and compressed vector spaces, and its three implementations: the raw
// embedding comparator, the memoized centroid comparator engine and the
// quantized comparator built on top of it.
package comparator

import (
	"fmt"

	"github.com/quiverdb/quiver/core"
)

// Comparator is the generic contract every distance space implements:
// resolve a stored record by VectorID and compute a symmetric, non-negative
// dissimilarity score between two records. Distance values are deterministic
// functions of their inputs; the score is not required to satisfy the
// triangle inequality.
type Comparator[T any] interface {
	// Lookup resolves a stored record. The returned value aliases the
	// comparator's current state and must not be mutated by the caller.
	Lookup(id core.VectorID) (T, error)

	// CompareRaw computes the dissimilarity of two records.
	CompareRaw(a, b T) (float32, error)
}

// PartialDistance is implemented by comparators that memoize per-chunk
// squared distances between centroid codes, answered in O(1).
type PartialDistance interface {
	PartialDistance(i, j uint16) float32
}

// ErrDimensionMismatch indicates two records of differing widths were
// compared. Within one comparator this cannot happen for stored records; it
// guards inline values supplied by the caller.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("comparator: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrOutOfRange indicates a VectorID past the end of the backing collection.
// This is a caller error, not a transient condition.
type ErrOutOfRange struct {
	ID    core.VectorID
	Count int
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("comparator: vector id %d out of range (count %d)", e.ID, e.Count)
}

// Value is one side of a comparison: either a record stored in the
// comparator, identified by VectorID, or an inline unstored record.
type Value[T any] struct {
	id     core.VectorID
	inline T
	stored bool
}

// Stored references the record at id.
func Stored[T any](id core.VectorID) Value[T] {
	return Value[T]{id: id, stored: true}
}

// Unstored wraps an inline record not present in the comparator.
func Unstored[T any](v T) Value[T] {
	return Value[T]{inline: v}
}

// Compare computes the dissimilarity of two values, resolving stored sides
// through c.Lookup.
func Compare[T any](c Comparator[T], a, b Value[T]) (float32, error) {
	va, err := a.resolve(c)
	if err != nil {
		return 0, err
	}

	vb, err := b.resolve(c)
	if err != nil {
		return 0, err
	}

	return c.CompareRaw(va, vb)
}

func (v Value[T]) resolve(c Comparator[T]) (T, error) {
	if v.stored {
		return c.Lookup(v.id)
	}
	return v.inline, nil
}
