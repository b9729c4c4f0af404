// Package cache defines the port for key-value caching. The primary
// consumer is the worktree manager, which caches expensive git stat
// calls under short TTLs.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value store with per-entry TTL. Get
// reports a miss via the bool; an expired or absent key is not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
