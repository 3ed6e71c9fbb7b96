package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BlobStore holds the raw image bytes a record's storage path points at.
type BlobStore interface {
	// Save stores a blob and returns the path to reference it by.
	Save(name string, data []byte) (string, error)

	// Get retrieves a blob by path.
	Get(path string) ([]byte, error)

	// Delete removes a blob.
	Delete(path string) error
}

// LocalBlobStore implements BlobStore on the local filesystem.
type LocalBlobStore struct {
	basePath string
}

// NewLocalBlobStore creates the base directory if needed.
func NewLocalBlobStore(basePath string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &LocalBlobStore{basePath: basePath}, nil
}

// Save writes a blob under the base directory.
func (l *LocalBlobStore) Save(name string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	return name, nil
}

// Get reads a blob back.
func (l *LocalBlobStore) Get(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Delete removes a blob.
func (l *LocalBlobStore) Delete(path string) error {
	if err := os.Remove(filepath.Join(l.basePath, path)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}
