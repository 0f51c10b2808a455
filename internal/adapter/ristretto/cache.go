// Package ristretto is the in-process L1 cache for diff results and
// idempotent responses.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache as an in-process L1 cache.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a ristretto-backed cache. maxCostBytes is the maximum total
// size of cached values in bytes.
func New(maxCostBytes int64) (*Cache, error) {
	if maxCostBytes < 1024 {
		return nil, fmt.Errorf("ristretto: max cost %d is below 1 KiB", maxCostBytes)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value in the cache with the given TTL. It waits for the
// write buffer to flush so a following Get observes the value. A value
// rejected by the admission policy is not an error.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("ristretto set %s: negative ttl %v", key, ttl)
	}
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	c.c.Wait()
	return nil
}

// Namespace returns a view whose keys are prefixed with name and a colon,
// so several consumers can share one cost budget without collisions.
func (c *Cache) Namespace(name string) *Namespaced {
	return &Namespaced{c: c, prefix: name + ":"}
}

// Namespaced is a prefixed view over a Cache. Closing the parent closes
// every view.
type Namespaced struct {
	c      *Cache
	prefix string
}

// Get implements cache.Cache.
func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.c.Get(ctx, n.prefix+key)
}

// Set implements cache.Cache.
func (n *Namespaced) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.c.Set(ctx, n.prefix+key, value, ttl)
}

// Delete implements cache.Cache.
func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.c.Delete(ctx, n.prefix+key)
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
