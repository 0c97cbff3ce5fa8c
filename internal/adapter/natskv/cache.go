// Package natskv implements the cache port on a NATS JetStream KV bucket so
// several OverhearOps processes share cached run records.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache stores values in a JetStream KV bucket. Expiry is the bucket TTL;
// per-entry TTLs are ignored.
type Cache struct {
	kv jetstream.KeyValue
}

// New wraps an opened KV bucket.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// keyReplacer maps cache keys onto the KV key alphabet. Run ids only use
// letters, digits, '-' and '_', so the mapping cannot collide.
var keyReplacer = strings.NewReplacer(":", ".", " ", "_", "*", "_", ">", "_")

// Key returns the KV key stored for a cache key.
func Key(key string) string { return keyReplacer.Replace(key) }

// Get returns the stored value; a missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, Key(key))
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Set writes value under key.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := c.kv.Put(ctx, Key(key), value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, Key(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}
