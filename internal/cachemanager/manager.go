// Package cachemanager provides a typed in-memory cache used by the module
// registry to hold loaded modules for the lifetime of the process.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a typed key/value cache.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Items(ctx context.Context) map[K]V
	Flush(ctx context.Context) error
}
