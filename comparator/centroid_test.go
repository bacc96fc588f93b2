package comparator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/core"
	"github.com/quiverdb/quiver/vectorfile"
)

// unitPair returns two width-16 centroids that overlap in no dimension and
// have exactly two unit components each, so their distance is exactly 2.
func unitPair() ([]float32, []float32) {
	c0 := make([]float32, 16)
	c0[0], c0[1] = 1, 1

	c1 := make([]float32, 16)
	c1[14], c1[15] = 1, 1

	return c0, c1
}

func TestCentroidCompareRaw(t *testing.T) {
	c0, c1 := unitPair()

	cc, err := NewCentroidComparator(16, [][]float32{c0, c1})
	require.NoError(t, err)

	d, err := cc.CompareRaw(c0, c1)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 1e-6)

	// Symmetric, and zero against itself.
	rev, err := cc.CompareRaw(c1, c0)
	require.NoError(t, err)
	assert.Equal(t, d, rev)

	self, err := cc.CompareRaw(c0, c0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, self, 1e-6)
}

func TestCentroidPartialDistance(t *testing.T) {
	c0, c1 := unitPair()

	cc, err := NewCentroidComparator(16, [][]float32{c0, c1})
	require.NoError(t, err)

	// The memoized partial is the squared distance.
	assert.InDelta(t, 4.0, cc.PartialDistance(0, 1), 1e-5)
	assert.Equal(t, cc.PartialDistance(0, 1), cc.PartialDistance(1, 0))
	assert.InDelta(t, 0.0, cc.PartialDistance(0, 0), 1e-6)
	assert.InDelta(t, 0.0, cc.PartialDistance(1, 1), 1e-6)
}

func TestCentroidLookup(t *testing.T) {
	c0, c1 := unitPair()

	cc, err := NewCentroidComparator(16, [][]float32{c0, c1})
	require.NoError(t, err)

	got, err := cc.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, c1, got)

	_, err = cc.Lookup(2)
	var oor *ErrOutOfRange
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, core.VectorID(2), oor.ID)
	assert.Equal(t, 2, oor.Count)
}

func TestCentroidWidthValidation(t *testing.T) {
	_, err := NewCentroidComparator(16, [][]float32{{1, 2, 3}})
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)

	_, err = NewCentroidComparator(0, nil)
	assert.ErrorAs(t, err, &dm)
}

func TestCentroidExtend(t *testing.T) {
	c0, c1 := unitPair()

	cc, err := NewCentroidComparator(16, [][]float32{c0, c1})
	require.NoError(t, err)

	before := cc.PartialDistance(0, 1)

	c2 := make([]float32, 16)
	c2[7] = 2

	ids, err := cc.Extend([][]float32{c2})
	require.NoError(t, err)
	assert.Equal(t, []core.VectorID{2}, ids)
	assert.Equal(t, 3, cc.Len())

	// Distances among previously stored centroids are unchanged, and the
	// table covers the new pairs.
	assert.Equal(t, before, cc.PartialDistance(0, 1))
	// |c0 - c2|^2 = 1 + 1 + 4 = 6
	assert.InDelta(t, 6.0, cc.PartialDistance(0, 2), 1e-5)
	assert.InDelta(t, 0.0, cc.PartialDistance(2, 2), 1e-6)
}

func TestCentroidExtendWidthMismatch(t *testing.T) {
	c0, c1 := unitPair()

	cc, err := NewCentroidComparator(16, [][]float32{c0, c1})
	require.NoError(t, err)

	_, err = cc.Extend([][]float32{{1, 2}})
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, cc.Len())
}

func TestCentroidSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "centroids")

	centroids := make([][]float32, 5)
	for i := range centroids {
		c := make([]float32, 32)
		for d := range c {
			c[d] = float32(i*32 + d)
		}
		centroids[i] = c
	}

	cc, err := NewCentroidComparator(32, centroids)
	require.NoError(t, err)
	require.NoError(t, cc.Save(path))

	loaded, err := LoadCentroidComparator(path, 32)
	require.NoError(t, err)

	assert.Equal(t, cc.Len(), loaded.Len())
	assert.Equal(t, cc.Centroids(), loaded.Centroids())

	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			assert.InDelta(t, cc.PartialDistance(uint16(i), uint16(j)), loaded.PartialDistance(uint16(i), uint16(j)), 1e-3)
		}
	}
}

func TestCentroidLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "centroids")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4, 5}, 0o644))

	_, err := LoadCentroidComparator(path, 16)
	assert.ErrorIs(t, err, vectorfile.ErrBadRecordSize)
}

func TestCompareValues(t *testing.T) {
	c0, c1 := unitPair()

	cc, err := NewCentroidComparator(16, [][]float32{c0, c1})
	require.NoError(t, err)

	d, err := Compare[[]float32](cc, Stored[[]float32](0), Stored[[]float32](1))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 1e-6)

	// Mixing a stored and an inline record.
	d, err = Compare[[]float32](cc, Stored[[]float32](0), Unstored(c0))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-6)

	_, err = Compare[[]float32](cc, Stored[[]float32](9), Unstored(c0))
	var oor *ErrOutOfRange
	assert.ErrorAs(t, err, &oor)
}
