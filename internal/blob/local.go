package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalFetcher reads objects from a directory on disk
type LocalFetcher struct {
	root     string
	maxBytes int64
}

// NewLocalFetcher creates a fetcher rooted at root
func NewLocalFetcher(root string, maxBytes int64) *LocalFetcher {
	return &LocalFetcher{root: root, maxBytes: maxBytes}
}

// Fetch reads root/storageRef. References that resolve outside root are rejected.
func (f *LocalFetcher) Fetch(ctx context.Context, storageRef string) ([]byte, error) {
	path, err := f.resolve(storageRef)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storageRef)
		}
		return nil, fmt.Errorf("failed to open %s: %w", storageRef, err)
	}
	defer file.Close()

	return readLimited(file, f.maxBytes)
}

func (f *LocalFetcher) resolve(storageRef string) (string, error) {
	if strings.TrimSpace(storageRef) == "" {
		return "", ErrInvalidRef
	}
	clean := filepath.Clean(filepath.FromSlash(storageRef))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, storageRef)
	}
	return filepath.Join(f.root, clean), nil
}
