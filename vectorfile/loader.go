package vectorfile

import "io"

// Loader streams a file's records in fixed-size chunks so the whole
// collection never has to be materialized at once. The record count is
// snapshotted when the loader is created.
type Loader[T Scalar] struct {
	f     *File[T]
	chunk int
	next  int
	limit int
}

// Next returns the next batch of up to chunkSize records, or io.EOF once the
// snapshot is exhausted. An empty file yields io.EOF immediately.
func (l *Loader[T]) Next() ([][]T, error) {
	if l.next >= l.limit {
		return nil, io.EOF
	}

	end := l.next + l.chunk
	if end > l.limit {
		end = l.limit
	}

	batch, err := l.f.Range(l.next, end)
	if err != nil {
		return nil, err
	}
	l.next = end

	return batch, nil
}

// Remaining returns the number of records not yet yielded.
func (l *Loader[T]) Remaining() int {
	if l.next >= l.limit {
		return 0
	}
	return l.limit - l.next
}
