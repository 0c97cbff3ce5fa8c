package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/overhearops/overhearops/internal/domain"
)

func TestGetRunRecordMalformed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_records (run_id, thread_id, mode, action, replay_hash, record, created_at)
		 VALUES ('broken', 't', 'heuristic', 'abstain', 'h', '{not json', '2024-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.GetRunRecord(ctx, "broken")
	if !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
