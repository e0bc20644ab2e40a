// Package drone is the device-peer boundary: it abstracts the drone's
// media storage behind a small manager interface and drives media
// synchronization into the local album through its own command queue.
package drone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrUnavailable reports that the device peer cannot be reached right now.
// Commands treat it as transient and let the controller retry.
var ErrUnavailable = errors.New("drone unavailable")

const copyChunkSize = 64 * 1024

// MediaFile describes one captured file on the device peer.
type MediaFile struct {
	Name       string
	Size       int64
	CapturedAt time.Time
}

// MediaManager is the device boundary the sync commands depend on. An
// implementation talks to the real drone SDK; DirectoryMediaManager serves
// a local directory for simulator runs and tests.
type MediaManager interface {
	// List enumerates the media currently stored on the device.
	List(ctx context.Context) ([]MediaFile, error)

	// Fetch streams one file into destPath, reporting every chunk
	// written through onReceived.
	Fetch(ctx context.Context, name, destPath string, onReceived func(int)) error

	// Remove deletes one file from the device storage.
	Remove(ctx context.Context, name string) error
}

// DirectoryMediaManager implements MediaManager on top of a local
// directory.
type DirectoryMediaManager struct {
	root string
}

// NewDirectoryMediaManager serves media from root.
func NewDirectoryMediaManager(root string) *DirectoryMediaManager {
	return &DirectoryMediaManager{root: root}
}

func (m *DirectoryMediaManager) List(ctx context.Context) ([]MediaFile, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	files := make([]MediaFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, MediaFile{
			Name:       entry.Name(),
			Size:       info.Size(),
			CapturedAt: info.ModTime(),
		})
	}
	return files, nil
}

func (m *DirectoryMediaManager) Fetch(ctx context.Context, name, destPath string, onReceived func(int)) error {
	src, err := os.Open(filepath.Join(m.root, name))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return err
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if onReceived != nil {
				onReceived(n)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (m *DirectoryMediaManager) Remove(ctx context.Context, name string) error {
	if err := os.Remove(filepath.Join(m.root, name)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
