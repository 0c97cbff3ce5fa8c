// Package cachetest holds a compliance suite for cache.Cache implementations.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/overhearops/overhearops/internal/port/cache"
)

// RunComplianceTests runs the standard compliance suite against any Cache implementation.
// Implementations that apply writes asynchronously pass a settle func that
// blocks until pending writes are visible.
func RunComplianceTests(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	ctx := context.Background()
	if settle == nil {
		settle = func() {}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "run:compliance", []byte(`{"run_id":"compliance"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		settle()
		val, found, err := c.Get(ctx, "run:compliance")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"run_id":"compliance"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "run:nonexistent")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "run:deleted", []byte("v"), time.Minute)
		settle()
		if err := c.Delete(ctx, "run:deleted"); err != nil {
			t.Fatal(err)
		}
		settle()
		if _, found, _ := c.Get(ctx, "run:deleted"); found {
			t.Fatal("expected miss after Delete")
		}
	})
}
