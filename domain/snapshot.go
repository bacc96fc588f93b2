package domain

import (
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/quiverdb/quiver/core"
)

// ExportSnapshot streams the domain's committed embeddings to w as a
// zstd-compressed copy of the raw record bytes.
func (d *Domain) ExportSnapshot(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}

	if _, err := d.file.WriteTo(zw); err != nil {
		_ = zw.Close()
		return err
	}

	return zw.Close()
}

// ImportSnapshot appends the embeddings of a snapshot written by
// ExportSnapshot and returns the half-open VectorID range assigned to them.
// The import goes through the regular concatenation path, so derived
// representations stay in lockstep.
func (d *Domain) ImportSnapshot(r io.Reader) (core.VectorID, core.VectorID, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, 0, err
	}
	defer zr.Close()

	tmp, err := os.CreateTemp(filepath.Dir(d.file.Path()), "snapshot-*"+FileSuffix)
	if err != nil {
		return 0, 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, zr); err != nil {
		_ = tmp.Close()
		return 0, 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, 0, err
	}

	return d.Concatenate(tmpName)
}
