// Package vectorfile implements the append-only, fixed-record vector file
// backing domains and quantized comparators.
//
// A file is a raw little-endian concatenation of records with no header; a
// record is width scalars of one scalar type. The file size must always be an
// exact multiple of the record size, and opening a file whose size is not is
// a format error, never a silent truncation.
package vectorfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/quiverdb/quiver/core"
)

// Scalar enumerates the record element types a vector file can hold:
// float32 for raw embeddings and centroids, uint16 for quantized codes.
type Scalar interface {
	float32 | uint16
}

// ErrBadRecordSize is returned when a file's size is not an exact multiple of
// its record size. It indicates corruption or a wrong width and is fatal to
// the operation that detected it.
var ErrBadRecordSize = errors.New("vectorfile: file size is not a multiple of the record size")

// ErrOutOfRange indicates a VectorID lookup past the end of the file.
// This is a caller error, not a transient condition.
type ErrOutOfRange struct {
	ID    core.VectorID
	Count int
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("vectorfile: vector id %d out of range (count %d)", e.ID, e.Count)
}

// ErrWidthMismatch indicates an operation across two files of different
// record widths.
type ErrWidthMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrWidthMismatch) Error() string {
	return fmt.Sprintf("vectorfile: record width mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// File is an append-only collection of fixed-width records stored on disk.
// Records are addressed by their insertion position. Reads of committed
// records may proceed concurrently with appends; appends are serialized.
type File[T Scalar] struct {
	mu    sync.RWMutex
	f     *os.File
	path  string
	width int
	count int
}

func scalarBytes[T Scalar]() int {
	var z T
	switch any(z).(type) {
	case float32:
		return 4
	default:
		return 2
	}
}

// Open opens the vector file at path, creating it if absent. width is the
// number of scalars per record. Opening is idempotent per path.
func Open[T Scalar](path string, width int) (*File[T], error) {
	return open[T](path, width, os.O_RDWR|os.O_CREATE)
}

// OpenExisting opens an existing vector file at path, failing if it is absent.
func OpenExisting[T Scalar](path string, width int) (*File[T], error) {
	return open[T](path, width, os.O_RDWR)
}

func open[T Scalar](path string, width int, flag int) (*File[T], error) {
	if width <= 0 {
		return nil, fmt.Errorf("vectorfile: invalid record width %d", width)
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	rb := int64(width * scalarBytes[T]())
	if st.Size()%rb != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %q has %d bytes, record size %d", ErrBadRecordSize, path, st.Size(), rb)
	}

	return &File[T]{
		f:     f,
		path:  path,
		width: width,
		count: int(st.Size() / rb),
	}, nil
}

// Path returns the file's path on disk.
func (f *File[T]) Path() string { return f.path }

// Width returns the number of scalars per record.
func (f *File[T]) Width() int { return f.width }

func (f *File[T]) recordBytes() int { return f.width * scalarBytes[T]() }

// NumVecs returns the number of committed records.
func (f *File[T]) NumVecs() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Append writes recs to the end of the file and returns the VectorID assigned
// to the first of them; subsequent records follow in insertion order.
func (f *File[T]) Append(recs [][]T) (core.VectorID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf, err := encodeRecords(recs, f.width)
	if err != nil {
		return 0, err
	}

	off := int64(f.count) * int64(f.recordBytes())
	if _, err := f.f.WriteAt(buf, off); err != nil {
		// A short write must not leave a partial record behind.
		_ = f.f.Truncate(off)
		return 0, err
	}

	start := core.VectorID(f.count)
	f.count += len(recs)

	return start, nil
}

// AppendFile appends every record of src to f and returns the new record
// count. Both files share the on-disk format, so the bytes are copied
// directly. Acquires f's write lock, then src's read lock.
func (f *File[T]) AppendFile(src *File[T]) (int, error) {
	if src.width != f.width {
		return 0, &ErrWidthMismatch{Expected: f.width, Actual: src.width}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	src.mu.RLock()
	defer src.mu.RUnlock()

	off := int64(f.count) * int64(f.recordBytes())
	size := int64(src.count) * int64(src.recordBytes())

	sr := io.NewSectionReader(src.f, 0, size)
	if _, err := io.Copy(io.NewOffsetWriter(f.f, off), sr); err != nil {
		_ = f.f.Truncate(off)
		return 0, err
	}

	f.count += src.count

	return f.count, nil
}

// Vec reads the record at id.
func (f *File[T]) Vec(id core.VectorID) ([]T, error) {
	f.mu.RLock()
	count := f.count
	f.mu.RUnlock()

	if int(id) >= count {
		return nil, &ErrOutOfRange{ID: id, Count: count}
	}

	rb := f.recordBytes()
	buf := make([]byte, rb)
	if _, err := f.f.ReadAt(buf, int64(id)*int64(rb)); err != nil {
		return nil, err
	}

	return decodeRecord[T](buf, f.width), nil
}

// Range reads the half-open record range [start, end).
func (f *File[T]) Range(start, end int) ([][]T, error) {
	f.mu.RLock()
	count := f.count
	f.mu.RUnlock()

	if start < 0 || end < start || end > count {
		return nil, &ErrOutOfRange{ID: core.VectorID(end), Count: count}
	}
	if start == end {
		return nil, nil
	}

	rb := f.recordBytes()
	buf := make([]byte, (end-start)*rb)
	if _, err := f.f.ReadAt(buf, int64(start)*int64(rb)); err != nil {
		return nil, err
	}

	out := make([][]T, end-start)
	for i := range out {
		out[i] = decodeRecord[T](buf[i*rb:(i+1)*rb], f.width)
	}

	return out, nil
}

// All reads every committed record into memory.
func (f *File[T]) All() ([][]T, error) {
	return f.Range(0, f.NumVecs())
}

// Chunks returns a sequential loader over the records committed at the time
// of the call, yielding batches of up to chunkSize records. Records appended
// afterwards are not included; call Chunks again to restart over the new
// length.
func (f *File[T]) Chunks(chunkSize int) *Loader[T] {
	return &Loader[T]{
		f:     f,
		chunk: chunkSize,
		limit: f.NumVecs(),
	}
}

// Truncate discards all records at position count and beyond.
func (f *File[T]) Truncate(count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if count < 0 || count > f.count {
		return &ErrOutOfRange{ID: core.VectorID(count), Count: f.count}
	}

	if err := f.f.Truncate(int64(count) * int64(f.recordBytes())); err != nil {
		return err
	}
	f.count = count

	return nil
}

// WriteTo streams the raw record bytes of every committed record to w.
func (f *File[T]) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	size := int64(f.count) * int64(f.recordBytes())
	f.mu.RUnlock()

	return io.Copy(w, io.NewSectionReader(f.f, 0, size))
}

// Sync flushes the file to stable storage.
func (f *File[T]) Sync() error {
	return f.f.Sync()
}

// Close closes the underlying file handle.
func (f *File[T]) Close() error {
	return f.f.Close()
}

func encodeRecords[T Scalar](recs [][]T, width int) ([]byte, error) {
	sb := scalarBytes[T]()
	buf := make([]byte, len(recs)*width*sb)
	off := 0

	for _, rec := range recs {
		if len(rec) != width {
			return nil, &ErrWidthMismatch{Expected: width, Actual: len(rec)}
		}
		switch r := any(rec).(type) {
		case []float32:
			for _, v := range r {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
				off += 4
			}
		case []uint16:
			for _, v := range r {
				binary.LittleEndian.PutUint16(buf[off:], v)
				off += 2
			}
		}
	}

	return buf, nil
}

func decodeRecord[T Scalar](b []byte, width int) []T {
	out := make([]T, width)
	switch o := any(out).(type) {
	case []float32:
		for i := range o {
			o[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	case []uint16:
		for i := range o {
			o[i] = binary.LittleEndian.Uint16(b[i*2:])
		}
	}
	return out
}
