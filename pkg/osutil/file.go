// Package osutil holds the small filesystem and process helpers shared by the
// ledger, the skill store and the run lock.
package osutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// AtomicWriteFile writes data to a temporary file next to path, syncs it and
// renames it over path. Readers observe either the old or the new content.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tempPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tempPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to write temporary file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to sync temporary file")
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to set file mode")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "failed to close temporary file")
	}

	// Rename to final file (this is atomic on most systems)
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "failed to rename temporary file")
	}

	return nil
}

// ReadFile reads path under a shared file lock. A missing file yields
// (nil, false, nil).
func ReadFile(path string) ([]byte, bool, error) {
	data, err := lockedfile.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "failed to read %s", path)
	}
	return data, true, nil
}
