package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/config"
	"github.com/fruitsalade/aftp/internal/fstree"
	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/internal/metrics"
	"github.com/fruitsalade/aftp/internal/storage/local"
	s3backend "github.com/fruitsalade/aftp/internal/storage/s3"
)

// NewContentRef returns a fresh content reference for a file called name:
// a random UUID followed by the name's extension.
func NewContentRef(name string) string {
	return uuid.NewString() + fstree.Extension(name)
}

// objectKey spreads refs over two-character prefix directories.
func objectKey(ref string) string {
	if len(ref) < 2 {
		return ref
	}
	return ref[:2] + "/" + ref
}

// Content maps content refs of file entries onto backend objects.
type Content struct {
	backend Backend
}

// NewContent wraps a backend.
func NewContent(backend Backend) *Content {
	return &Content{backend: backend}
}

// Open builds the content store selected by cfg, with the read cache in
// front when cfg.ContentCacheEntries is positive.
func Open(ctx context.Context, cfg *config.Config) (*Content, error) {
	var raw []byte
	var err error
	switch cfg.StorageBackend {
	case "local":
		raw, err = json.Marshal(local.Config{RootPath: cfg.LocalStoragePath, CreateDirs: true})
	case "s3":
		raw, err = json.Marshal(s3backend.BackendConfig{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s config: %w", cfg.StorageBackend, err)
	}

	backend, err := NewBackend(ctx, cfg.StorageBackend, raw)
	if err != nil {
		return nil, err
	}
	if cfg.ContentCacheEntries > 0 {
		backend = NewCached(backend, cfg.ContentCacheEntries, cfg.ContentCacheTTL, cfg.ContentCacheMaxObject)
	}
	return NewContent(backend), nil
}

// Type returns the underlying backend type.
func (c *Content) Type() string { return c.backend.Type() }

// Put stores the body for ref.
func (c *Content) Put(ctx context.Context, ref string, body io.Reader, size int64) error {
	if ref == "" {
		return fmt.Errorf("empty content ref")
	}
	if err := c.backend.PutObject(ctx, objectKey(ref), body, size); err != nil {
		return err
	}
	metrics.RecordContentUpload(size)
	return nil
}

// Open returns a reader over the content of ref and the number of bytes it
// will yield. offset and length behave as in Backend.GetObject.
func (c *Content) Open(ctx context.Context, ref string, offset, length int64) (io.ReadCloser, int64, error) {
	return c.backend.GetObject(ctx, objectKey(ref), offset, length)
}

// Size returns the stored length of ref.
func (c *Content) Size(ctx context.Context, ref string) (int64, error) {
	return c.backend.ObjectSize(ctx, objectKey(ref))
}

// Remove deletes the content of a single ref.
func (c *Content) Remove(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	return c.backend.DeleteObject(ctx, objectKey(ref))
}

// Release deletes the content of every file in a removed subtree. It keeps
// going past individual failures and returns them joined.
func (c *Content) Release(ctx context.Context, removed *fstree.Tree) error {
	if removed == nil {
		return nil
	}
	var errs []error
	for _, file := range removed.Files() {
		if err := c.Remove(ctx, file.ContentRef); err != nil {
			logging.WithContext(ctx).Warn("release content failed",
				zap.String("name", file.Name),
				zap.String("ref", file.ContentRef),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("release %s: %w", file.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the backend.
func (c *Content) Close() error {
	return c.backend.Close()
}
