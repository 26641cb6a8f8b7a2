// Package blob reads artifact bytes from the configured object store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tradecomply/internal/config"
)

// DefaultMaxBytes bounds an object read when no limit is configured
const DefaultMaxBytes int64 = 20 << 20

var (
	// ErrNotFound is returned when no object exists for a storage reference
	ErrNotFound = errors.New("object not found")
	// ErrTooLarge is returned when an object exceeds the configured size limit
	ErrTooLarge = errors.New("object exceeds size limit")
	// ErrInvalidRef is returned for empty or escaping storage references
	ErrInvalidRef = errors.New("invalid storage reference")
)

// Fetcher returns the bytes stored under a storage reference
type Fetcher interface {
	Fetch(ctx context.Context, storageRef string) ([]byte, error)
}

// New builds the fetcher selected by cfg.Driver
func New(ctx context.Context, cfg config.StorageConfig) (Fetcher, error) {
	switch cfg.Driver {
	case "local":
		return NewLocalFetcher(cfg.Root, cfg.MaxBytes), nil
	case "s3":
		return NewS3Fetcher(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}
