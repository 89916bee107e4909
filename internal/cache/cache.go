// Package cache wraps an in-memory expiring cache behind a small generic
// interface so callers are not coupled to the backing library.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Digital-Pathology/ModelManager/internal/log"
)

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Minute

// Manager is the minimal caching contract used by the registry.
type Manager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K)
	Flush(ctx context.Context)
}

// InMemory is the concrete Manager backed by patrickmn/go-cache.
type InMemory[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
}

// NewInMemory initializes an in-memory cache. useCase labels log entries so
// multiple caches in one process are distinguishable.
func NewInMemory[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemory[K, V] {
	return &InMemory[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
}

// Get retrieves an item from the cache by its key.
func (c *InMemory[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V

	value, found := c.cache.Get(string(key))
	if !found {
		return zero, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type assertion when getting value", "useCase", c.useCase, "key", key)
		return zero, false
	}

	log.Debug(log.CatCache, "cache hit", "useCase", c.useCase, "key", key)

	return v, true
}

// Set stores a value under key for ttl. A zero ttl uses the cache default.
func (c *InMemory[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

// Delete evicts the given keys. Missing keys are ignored.
func (c *InMemory[K, V]) Delete(ctx context.Context, keys ...K) {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
}

// Flush drops every entry.
func (c *InMemory[K, V]) Flush(ctx context.Context) {
	log.Debug(log.CatCache, "cache flushed", "useCase", c.useCase)
	c.cache.Flush()
}

// ReadThrough wraps a Manager with a loader function so callers always get a
// value: from cache when warm, from the loader otherwise.
type ReadThrough[K ~string, V any] struct {
	cache  Manager[K, V]
	loader func(ctx context.Context) (V, error)
	skip   bool
}

// NewReadThrough builds a read-through view over cache. When skip is true the
// loader is always consulted (useful for tests and for callers that need
// strict freshness).
func NewReadThrough[K ~string, V any](cache Manager[K, V], loader func(ctx context.Context) (V, error), skip bool) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{cache: cache, loader: loader, skip: skip}
}

// Get returns the cached value for key, loading and caching it on a miss.
func (r *ReadThrough[K, V]) Get(ctx context.Context, key K, ttl time.Duration) (V, error) {
	if r.skip {
		return r.loader(ctx)
	}

	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := r.loader(ctx)
	if err != nil {
		return value, err
	}

	r.cache.Set(ctx, key, value, ttl)

	return value, nil
}

// Put replaces the cached value for key, bypassing the loader. Used after a
// mutation when the caller already holds the fresh value.
func (r *ReadThrough[K, V]) Put(ctx context.Context, key K, value V, ttl time.Duration) {
	if r.skip {
		return
	}
	r.cache.Set(ctx, key, value, ttl)
}

// Invalidate drops the cached value for key.
func (r *ReadThrough[K, V]) Invalidate(ctx context.Context, key K) {
	r.cache.Delete(ctx, key)
}
