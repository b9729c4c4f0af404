// Package tiered layers a fast in-process cache over a shared remote
// one. Worktree stats are read far more often than they change, so most
// lookups stay local while the remote tier keeps replicas warm.
package tiered

import (
	"context"
	"time"

	"github.com/Strob0t/ForgeFlow/internal/port/cache"
)

// Cache reads through L1 to L2 and writes through to both. An L2 hit
// is copied back into L1 with the configured backfill TTL.
type Cache struct {
	l1          cache.Cache
	l2          cache.Cache
	backfillTTL time.Duration
}

func New(l1, l2 cache.Cache, backfillTTL time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, backfillTTL: backfillTTL}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	// A failed backfill only costs the next lookup an L2 round trip.
	_ = c.l1.Set(ctx, key, val, c.backfillTTL)
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}
