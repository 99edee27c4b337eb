// Package cache provides the TTL caches behind business lookups: an in-process
// map with lazy expiry and a background sweep, and a Redis-backed variant.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values under string keys for a limited time.
type Cache interface {
	// Get returns ok=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
