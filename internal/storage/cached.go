package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fruitsalade/aftp/internal/metrics"
)

// Cached keeps small objects in memory in front of another Backend.
// Objects larger than maxObject bypass the cache.
type Cached struct {
	Backend
	cache     *expirable.LRU[string, []byte]
	maxObject int64
}

// NewCached wraps inner with an expiring LRU of at most entries objects.
func NewCached(inner Backend, entries int, ttl time.Duration, maxObject int64) *Cached {
	return &Cached{
		Backend:   inner,
		cache:     expirable.NewLRU[string, []byte](entries, nil, ttl),
		maxObject: maxObject,
	}
}

// GetObject serves from memory when it can and fills the cache on a miss.
func (c *Cached) GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	if data, ok := c.cache.Get(key); ok {
		metrics.RecordCacheLookup(true)
		rc, n := slice(data, offset, length)
		return rc, n, nil
	}
	metrics.RecordCacheLookup(false)

	rc, size, err := c.Backend.GetObject(ctx, key, 0, 0)
	if err != nil {
		return nil, 0, err
	}
	if size > c.maxObject {
		if offset == 0 && length == 0 {
			return rc, size, nil
		}
		rc.Close()
		return c.Backend.GetObject(ctx, key, offset, length)
	}

	data, err := io.ReadAll(io.LimitReader(rc, size+1))
	rc.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}
	c.cache.Add(key, data)

	out, n := slice(data, offset, length)
	return out, n, nil
}

// PutObject invalidates the cached copy before writing.
func (c *Cached) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	c.cache.Remove(key)
	return c.Backend.PutObject(ctx, key, body, size)
}

// DeleteObject invalidates the cached copy before deleting.
func (c *Cached) DeleteObject(ctx context.Context, key string) error {
	c.cache.Remove(key)
	return c.Backend.DeleteObject(ctx, key)
}

// ObjectSize answers from memory when the object is cached.
func (c *Cached) ObjectSize(ctx context.Context, key string) (int64, error) {
	if data, ok := c.cache.Peek(key); ok {
		return int64(len(data)), nil
	}
	return c.Backend.ObjectSize(ctx, key)
}

// Close drops the cache and closes the wrapped backend.
func (c *Cached) Close() error {
	c.cache.Purge()
	return c.Backend.Close()
}

// slice applies offset/length to an in-memory object the same way the
// backends do for ranged reads.
func slice(data []byte, offset, length int64) (io.ReadCloser, int64) {
	size := int64(len(data))
	if offset > size {
		offset = size
	}
	end := size
	if length > 0 && offset+length < size {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), end - offset
}
