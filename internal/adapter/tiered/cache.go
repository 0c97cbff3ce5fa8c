// Package tiered layers the in-process record cache over a shared one.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/overhearops/overhearops/internal/port/cache"
)

// Cache reads the local cache first and falls back to the shared cache,
// copying shared hits into the local one. Writes go to both; the shared
// cache is authoritative, so a local write failure is only logged.
type Cache struct {
	local  cache.Cache
	shared cache.Cache
	ttl    time.Duration
}

// New creates a tiered cache. localTTL bounds how long shared hits stay local.
func New(local, shared cache.Cache, localTTL time.Duration) *Cache {
	return &Cache{local: local, shared: shared, ttl: localTTL}
}

// Get checks local then shared.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, ok, err := c.local.Get(ctx, key); err == nil && ok {
		return val, true, nil
	}
	val, ok, err := c.shared.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := c.local.Set(ctx, key, val, c.ttl); err != nil {
		slog.DebugContext(ctx, "local cache backfill failed", "key", key, "error", err)
	}
	return val, true, nil
}

// Set writes the shared cache, then the local one.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.local.Set(ctx, key, value, min(ttl, c.ttl)); err != nil {
		slog.DebugContext(ctx, "local cache set failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes key from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.shared.Delete(ctx, key)
}
