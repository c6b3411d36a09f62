package cachemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/newhook/kb/internal/logging"
	gocache "github.com/patrickmn/go-cache"
)

// InMemoryCacheManager is a CacheManager backed by go-cache. Keys are
// stored by their fmt representation.
type InMemoryCacheManager[K comparable, V any] struct {
	name  string
	cache *gocache.Cache
}

var _ CacheManager[string, int] = (*InMemoryCacheManager[string, int])(nil)

// NewInMemoryCacheManager creates a named in-memory cache.
func NewInMemoryCacheManager[K comparable, V any](name string, expiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	return &InMemoryCacheManager[K, V]{
		name:  name,
		cache: gocache.New(expiration, cleanupInterval),
	}
}

func cacheKey[K comparable](key K) string {
	if s, ok := any(key).(string); ok {
		return s
	}
	return fmt.Sprint(key)
}

func (m *InMemoryCacheManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V
	raw, ok := m.cache.Get(cacheKey(key))
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		logging.WarnContext(ctx, "cache value has unexpected type", "cache", m.name, "key", cacheKey(key), "type", fmt.Sprintf("%T", raw))
		return zero, false
	}
	return v, true
}

func (m *InMemoryCacheManager[K, V]) GetMultiple(ctx context.Context, keys []K) (map[K]V, bool) {
	var out map[K]V
	for _, key := range keys {
		v, ok := m.Get(ctx, key)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[K]V, len(keys))
		}
		out[key] = v
	}
	return out, out != nil
}

func (m *InMemoryCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	v, ok := m.Get(ctx, key)
	if ok {
		m.cache.Set(cacheKey(key), v, ttl)
	}
	return v, ok
}

func (m *InMemoryCacheManager[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	m.cache.Set(cacheKey(key), value, ttl)
}

func (m *InMemoryCacheManager[K, V]) Delete(_ context.Context, keys ...K) error {
	for _, key := range keys {
		m.cache.Delete(cacheKey(key))
	}
	return nil
}

func (m *InMemoryCacheManager[K, V]) Flush(context.Context) error {
	m.cache.Flush()
	return nil
}
