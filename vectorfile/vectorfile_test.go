package vectorfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/core"
)

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")

	f, err := Open[float32](path, 3)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, 0, f.NumVecs())

	start, err := f.Append([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, core.VectorID(0), start)
	assert.Equal(t, 2, f.NumVecs())

	start, err = f.Append([][]float32{{7, 8, 9}})
	require.NoError(t, err)
	assert.Equal(t, core.VectorID(2), start)

	vec, err := f.Vec(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6}, vec)

	recs, err := f.Range(1, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4, 5, 6}, {7, 8, 9}}, recs)

	all, err := f.All()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestVecOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")

	f, err := Open[float32](path, 2)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Vec(0)

	var oor *ErrOutOfRange
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, core.VectorID(0), oor.ID)
	assert.Equal(t, 0, oor.Count)
}

func TestWidthMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")

	f, err := Open[float32](path, 3)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append([][]float32{{1, 2}})

	var wm *ErrWidthMismatch
	require.ErrorAs(t, err, &wm)
	assert.Equal(t, 3, wm.Expected)
	assert.Equal(t, 2, wm.Actual)
}

func TestBadRecordSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4, 5}, 0o644))

	_, err := OpenExisting[float32](path, 1)
	assert.ErrorIs(t, err, ErrBadRecordSize)
}

func TestOpenExistingMissing(t *testing.T) {
	_, err := OpenExisting[float32](filepath.Join(t.TempDir(), "absent"), 2)
	assert.Error(t, err)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")

	f, err := Open[uint16](path, 2)
	require.NoError(t, err)
	_, err = f.Append([][]uint16{{10, 20}, {30, 40}})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := OpenExisting[uint16](path, 2)
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, 2, g.NumVecs())
	vec, err := g.Vec(1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{30, 40}, vec)
}

func TestTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")

	f, err := Open[float32](path, 1)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append([][]float32{{1}, {2}, {3}})
	require.NoError(t, err)

	require.NoError(t, f.Truncate(1))
	assert.Equal(t, 1, f.NumVecs())

	_, err = f.Vec(1)
	assert.Error(t, err)

	// Appends continue from the truncated length.
	start, err := f.Append([][]float32{{9}})
	require.NoError(t, err)
	assert.Equal(t, core.VectorID(1), start)

	vec, err := f.Vec(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, vec)
}

func TestAppendFile(t *testing.T) {
	dir := t.TempDir()

	dst, err := Open[float32](filepath.Join(dir, "dst"), 2)
	require.NoError(t, err)
	defer dst.Close()
	_, err = dst.Append([][]float32{{1, 1}})
	require.NoError(t, err)

	src, err := Open[float32](filepath.Join(dir, "src"), 2)
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Append([][]float32{{2, 2}, {3, 3}})
	require.NoError(t, err)

	count, err := dst.AppendFile(src)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, err := dst.All()
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}, {3, 3}}, all)
}

func TestAppendFileWidthMismatch(t *testing.T) {
	dir := t.TempDir()

	dst, err := Open[float32](filepath.Join(dir, "dst"), 2)
	require.NoError(t, err)
	defer dst.Close()

	src, err := Open[float32](filepath.Join(dir, "src"), 3)
	require.NoError(t, err)
	defer src.Close()

	_, err = dst.AppendFile(src)

	var wm *ErrWidthMismatch
	assert.ErrorAs(t, err, &wm)
}

func TestChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")

	f, err := Open[float32](path, 1)
	require.NoError(t, err)
	defer f.Close()

	recs := make([][]float32, 5)
	for i := range recs {
		recs[i] = []float32{float32(i)}
	}
	_, err = f.Append(recs)
	require.NoError(t, err)

	loader := f.Chunks(2)
	assert.Equal(t, 5, loader.Remaining())

	var seen [][]float32
	var sizes []int
	for {
		batch, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(batch))
		seen = append(seen, batch...)
	}

	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, recs, seen)
	assert.Equal(t, 0, loader.Remaining())
}

func TestChunksEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")

	f, err := Open[float32](path, 4)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Chunks(16).Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunksSnapshotsLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecs")

	f, err := Open[float32](path, 1)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append([][]float32{{1}, {2}})
	require.NoError(t, err)

	loader := f.Chunks(10)

	// Records appended after the snapshot are not part of this pass.
	_, err = f.Append([][]float32{{3}})
	require.NoError(t, err)

	batch, err := loader.Next()
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = loader.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	recs := [][]uint16{{1, 2}, {3, 4}}

	require.NoError(t, Write(path, 2, recs))

	f, err := OpenExisting[uint16](path, 2)
	require.NoError(t, err)
	defer f.Close()

	all, err := f.All()
	require.NoError(t, err)
	assert.Equal(t, recs, all)
}

func TestWriteReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")

	require.NoError(t, Write(path, 1, [][]float32{{1}, {2}, {3}}))
	require.NoError(t, Write(path, 1, [][]float32{{9}}))

	f, err := OpenExisting[float32](path, 1)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, 1, f.NumVecs())
}
