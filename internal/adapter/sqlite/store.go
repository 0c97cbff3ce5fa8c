package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/verdict"
	"github.com/overhearops/overhearops/internal/port/database"
)

// Store implements database.Store on a sqlite file.
type Store struct {
	db *sql.DB
}

var _ database.Store = (*Store)(nil)

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type scannable interface {
	Scan(dest ...any) error
}

func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func decodeJSON(data string, dst any, what string) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("decode %s: %w: %v", what, domain.ErrMalformed, err)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// --- Run records ---

func (s *Store) CreateRunRecord(ctx context.Context, rec *run.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_records (run_id, thread_id, mode, action, winner_plan_id, replay_hash, record, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.ThreadID, rec.Mode, string(rec.Gate.Action), rec.Verdict.WinningPlan.ID,
		rec.ReplayHash, string(doc), rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create run record %s: %w", rec.RunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create run record %s: %w", rec.RunID, err)
	}
	if n == 0 {
		return fmt.Errorf("create run record %s: %w", rec.RunID, domain.ErrConflict)
	}
	return nil
}

func (s *Store) GetRunRecord(ctx context.Context, runID string) (*run.Record, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM run_records WHERE run_id = ?`, runID).Scan(&doc)
	if err != nil {
		return nil, notFoundWrap(err, "get run record %s", runID)
	}

	var rec run.Record
	if err := decodeJSON(doc, &rec, "run record "+runID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListRunRecords(ctx context.Context, threadID string, limit int) ([]run.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, thread_id, mode, action, winner_plan_id, replay_hash, created_at
		 FROM run_records
		 WHERE ? = '' OR thread_id = ?
		 ORDER BY created_at DESC, run_id
		 LIMIT ?`, threadID, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []run.Summary
	for rows.Next() {
		var sum run.Summary
		var action, created string
		if err := rows.Scan(&sum.RunID, &sum.ThreadID, &sum.Mode, &action, &sum.WinnerID, &sum.ReplayHash, &created); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		sum.Action = verdict.Action(action)
		sum.CreatedAt = parseTime(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// --- Checkpoints ---

func (s *Store) SaveCheckpoint(ctx context.Context, cp database.Checkpoint) error {
	state, err := json.Marshal(database.CheckpointDoc{State: cp.State, Trace: cp.Trace})
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_checkpoints (run_id, seq, stage, mode, provider, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, stage) DO UPDATE
		 SET seq = excluded.seq, mode = excluded.mode, provider = excluded.provider,
		     state = excluded.state, created_at = excluded.created_at`,
		cp.RunID, cp.Seq, string(cp.Stage), cp.Mode, cp.Provider, string(state),
		cp.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", cp.RunID, cp.Stage, err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, runID string, stage run.Stage) (*database.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, seq, stage, mode, provider, state, created_at
		 FROM run_checkpoints WHERE run_id = ? AND stage = ?`, runID, string(stage))
	cp, err := scanCheckpoint(row)
	if err != nil {
		return nil, notFoundWrap(err, "load checkpoint %s/%s", runID, stage)
	}
	return &cp, nil
}

func (s *Store) ListCheckpoints(ctx context.Context, runID string) ([]database.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, stage, mode, provider, state, created_at
		 FROM run_checkpoints WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []database.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints %s: %w", runID, err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func scanCheckpoint(row scannable) (database.Checkpoint, error) {
	var cp database.Checkpoint
	var stage, state, created string
	if err := row.Scan(&cp.RunID, &cp.Seq, &stage, &cp.Mode, &cp.Provider, &state, &created); err != nil {
		return database.Checkpoint{}, err
	}
	cp.Stage = run.Stage(stage)
	cp.CreatedAt = parseTime(created)
	var doc database.CheckpointDoc
	if err := decodeJSON(state, &doc, "checkpoint state"); err != nil {
		return database.Checkpoint{}, err
	}
	cp.State = doc.State
	cp.Trace = doc.Trace
	return cp, nil
}
