package assets

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FilesystemStore keeps wallpaper binaries on local disk under a
// device-type-prefixed directory tree.
type FilesystemStore struct {
	basePath string
}

// NewFilesystemStore creates a filesystem asset backend rooted at basePath.
func NewFilesystemStore(basePath string) *FilesystemStore {
	return &FilesystemStore{basePath: basePath}
}

// EnsureDir creates the storage root if it doesn't exist.
func (s *FilesystemStore) EnsureDir() error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create asset directory %s: %w", s.basePath, err)
	}
	return nil
}

// Save writes data under a freshly generated name and returns its location.
func (s *FilesystemStore) Save(ctx context.Context, device, ext string, data io.Reader) (string, error) {
	location := newLocation(device, ext)
	if err := s.Put(ctx, location, data); err != nil {
		return "", err
	}
	return location, nil
}

// Put writes data at an exact location, creating the device directory
// as needed.
func (s *FilesystemStore) Put(ctx context.Context, location string, data io.Reader) error {
	filePath := s.filePath(location)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create asset file %s: %w", filePath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		// Clean up partial file on error
		os.Remove(filePath)
		return fmt.Errorf("failed to write asset: %w", err)
	}
	return nil
}

// Open returns a reader over the stored bytes.
func (s *FilesystemStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(s.filePath(location))
	if err != nil {
		return nil, fmt.Errorf("failed to open asset %s: %w", location, err)
	}
	return f, nil
}

// Resolve returns the on-disk path for direct streaming.
func (s *FilesystemStore) Resolve(location string) Ref {
	return Ref{Path: s.filePath(location)}
}

// Delete removes the stored file. Missing files are not an error.
func (s *FilesystemStore) Delete(ctx context.Context, location string) error {
	if err := os.Remove(s.filePath(location)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset %s: %w", location, err)
	}
	return nil
}

// Sweep walks the storage tree and removes files not referenced by any
// live location.
func (s *FilesystemStore) Sweep(ctx context.Context, live map[string]bool) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		location := filepath.ToSlash(rel)
		if live[location] || isDerived(location, live) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("failed to remove orphan %s: %w", location, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *FilesystemStore) filePath(location string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(location))
}
