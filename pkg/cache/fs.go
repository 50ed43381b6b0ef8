package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Filesystem is the blob storage used by Manager.
type Filesystem interface {
	EnsureDir(path string) error
	ListEntries(path string) ([]string, error)
	PathExists(path string) (bool, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Remove(path string) error
}

// tempPrefix names in-progress blob writes inside the cache directory.
const tempPrefix = ".schema-"

// OSFilesystem stores blobs on the local disk.
type OSFilesystem struct{}

// EnsureDir creates path and any missing parents.
func (OSFilesystem) EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// ListEntries returns the names of the entries in path.
func (OSFilesystem) ListEntries(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// PathExists reports whether a file exists at path.
func (OSFilesystem) PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReadFile reads the whole file at path.
func (OSFilesystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // path is derived from a digest, not user input
}

// Remove deletes the file at path.
func (OSFilesystem) Remove(path string) error {
	return os.Remove(path)
}

// WriteFile replaces the file at path through a temporary file and rename,
// so readers never observe partially written content.
func (OSFilesystem) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
