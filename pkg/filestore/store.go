// Package filestore is the local file boundary used by the download, upload
// and unzip steps. The core only requires create-if-absent, existence
// checks, move and enumeration; everything is addressed by a directory path
// plus an optional file name.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
)

const dirPerm os.FileMode = 0o750

// Store abstracts the local directory/file operations the core depends on.
type Store interface {
	// EnsureDir creates the directory if it does not exist yet.
	EnsureDir(dir string) error

	// Exists reports whether dir/name exists. An empty name checks the
	// directory itself.
	Exists(dir, name string) bool

	// Move relocates srcDir/srcName to dstDir/dstName, creating the
	// destination directory if absent.
	Move(srcDir, srcName, dstDir, dstName string) error

	// Remove deletes dir/name. An empty name removes the directory and
	// its contents.
	Remove(dir, name string) error

	// List enumerates the entry names directly under dir.
	List(dir string) ([]string, error)
}

// DiskStore implements Store on the local filesystem.
type DiskStore struct{}

// NewDiskStore creates a filesystem-backed store.
func NewDiskStore() *DiskStore {
	return &DiskStore{}
}

func (s *DiskStore) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

func (s *DiskStore) Exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func (s *DiskStore) Move(srcDir, srcName, dstDir, dstName string) error {
	if err := s.EnsureDir(dstDir); err != nil {
		return err
	}
	src := filepath.Join(srcDir, srcName)
	dst := filepath.Join(dstDir, dstName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return nil
}

func (s *DiskStore) Remove(dir, name string) error {
	path := filepath.Join(dir, name)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (s *DiskStore) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}
