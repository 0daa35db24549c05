// Package storage holds the content store: raw object backends plus the
// facade that ties stored bytes to file entries of the tree.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/fruitsalade/aftp/internal/storage/local"
	s3backend "github.com/fruitsalade/aftp/internal/storage/s3"
)

// Backend is the interface for content storage backends.
// Implementations handle raw object I/O only; the tree lives elsewhere.
type Backend interface {
	// GetObject retrieves an object by key with optional range support.
	// If offset=0 and length=0, the entire object is returned.
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Missing objects are not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectSize returns the total size of the object at key.
	ObjectSize(ctx context.Context, key string) (int64, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// NewBackend creates a Backend from a backend type string and JSON config.
func NewBackend(ctx context.Context, backendType string, config json.RawMessage) (Backend, error) {
	switch backendType {
	case "s3":
		return s3backend.NewFromJSON(ctx, config)
	case "local":
		return local.NewFromJSON(config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}

// IsNotFound reports whether err means the object does not exist.
// Backends wrap fs.ErrNotExist for missing keys.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
