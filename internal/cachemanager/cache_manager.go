// Package cachemanager provides a small typed cache interface used to keep
// tracker responses between requests.
package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultExpiration uses the expiration the cache was created with.
	DefaultExpiration = gocache.DefaultExpiration
	// NoExpiration keeps an item until it is deleted.
	NoExpiration = gocache.NoExpiration
	// DefaultCleanupInterval is how often expired items are purged.
	DefaultCleanupInterval = 10 * time.Minute
)

// CacheManager is a typed key/value cache.
type CacheManager[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	// GetMultiple returns the values found for keys. ok is false when none
	// of the keys were present.
	GetMultiple(ctx context.Context, keys []K) (map[K]V, bool)
	// GetWithRefresh returns the value for key and extends its lifetime to ttl.
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}
