// Package cache provides a small TTL key/value store used for reference data
// such as courier and coverage-area listings.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented cache with per-entry expiry. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the cached value. The boolean reports whether the key was
	// present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the value for the given TTL. A non-positive TTL stores the
	// value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key if present.
	Delete(ctx context.Context, key string) error
}
