package vectorfile

import (
	"os"
	"path/filepath"
)

// Write persists recs as a vector file at path, replacing any previous
// content. The records are written to a temp file in the same directory and
// renamed into place so a crash never leaves a partially written file behind.
func Write[T Scalar](path string, width int, recs [][]T) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	f, err := Open[T](tmpName, width)
	if err != nil {
		return err
	}
	if _, err := f.Append(recs); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}
