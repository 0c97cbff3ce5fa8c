//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/overhearops/overhearops/internal/adapter/postgres"
)

// TestMigrationUpDown applies every migration, rolls all of them back and
// applies them again, so each Down section is exercised. It drops the run
// tables and must only run against a disposable database.
func TestMigrationUpDown(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()
	const total = 2

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("up: %v", err)
	}
	assertVersion(t, dsn, total)

	if err := postgres.RollbackMigrations(ctx, dsn, total+1); err != nil {
		t.Fatalf("down past zero: %v", err)
	}
	assertVersion(t, dsn, 0)

	ms, err := postgres.MigrationStatus(ctx, dsn)
	if err != nil {
		t.Fatalf("MigrationStatus: %v", err)
	}
	if len(ms) != total {
		t.Fatalf("status lists %d migrations, want %d", len(ms), total)
	}
	for _, m := range ms {
		if m.Applied {
			t.Errorf("migration %d still applied after rollback", m.Version)
		}
	}

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("re-up: %v", err)
	}
	assertVersion(t, dsn, total)
}

func assertVersion(t *testing.T, dsn string, want int64) {
	t.Helper()
	v, err := postgres.MigrationVersion(context.Background(), dsn)
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != want {
		t.Fatalf("version = %d, want %d", v, want)
	}
}
