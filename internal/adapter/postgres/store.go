package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/verdict"
	"github.com/overhearops/overhearops/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- Run records ---

func (s *Store) CreateRunRecord(ctx context.Context, rec *run.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_records (run_id, thread_id, mode, action, winner_plan_id, replay_hash, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.RunID, rec.ThreadID, rec.Mode, string(rec.Gate.Action), rec.Verdict.WinningPlan.ID,
		rec.ReplayHash, doc, rec.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create run record %s", rec.RunID)
	}
	return nil
}

func (s *Store) GetRunRecord(ctx context.Context, runID string) (*run.Record, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM run_records WHERE run_id = $1`, runID).Scan(&doc)
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
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, thread_id, mode, action, winner_plan_id, replay_hash, created_at
		 FROM run_records
		 WHERE $1 = '' OR thread_id = $1
		 ORDER BY created_at DESC, run_id
		 LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	defer rows.Close()

	var out []run.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func scanSummary(row scannable) (run.Summary, error) {
	var sum run.Summary
	var action string
	if err := row.Scan(&sum.RunID, &sum.ThreadID, &sum.Mode, &action, &sum.WinnerID, &sum.ReplayHash, &sum.CreatedAt); err != nil {
		return run.Summary{}, fmt.Errorf("scan run summary: %w", err)
	}
	sum.Action = verdict.Action(action)
	sum.CreatedAt = sum.CreatedAt.UTC()
	return sum, nil
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_checkpoints (run_id, seq, stage, mode, provider, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id, stage) DO UPDATE
		 SET seq = EXCLUDED.seq, mode = EXCLUDED.mode, provider = EXCLUDED.provider,
		     state = EXCLUDED.state, created_at = EXCLUDED.created_at`,
		cp.RunID, cp.Seq, string(cp.Stage), cp.Mode, cp.Provider, state, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", cp.RunID, cp.Stage, err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, runID string, stage run.Stage) (*database.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, seq, stage, mode, provider, state, created_at
		 FROM run_checkpoints WHERE run_id = $1 AND stage = $2`, runID, string(stage))
	cp, err := scanCheckpoint(row)
	if err != nil {
		return nil, notFoundWrap(err, "load checkpoint %s/%s", runID, stage)
	}
	return &cp, nil
}

func (s *Store) ListCheckpoints(ctx context.Context, runID string) ([]database.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, seq, stage, mode, provider, state, created_at
		 FROM run_checkpoints WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints %s: %w", runID, err)
	}
	defer rows.Close()

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
	var stage string
	var state []byte
	if err := row.Scan(&cp.RunID, &cp.Seq, &stage, &cp.Mode, &cp.Provider, &state, &cp.CreatedAt); err != nil {
		return database.Checkpoint{}, err
	}
	cp.Stage = run.Stage(stage)
	cp.CreatedAt = cp.CreatedAt.UTC()
	var doc database.CheckpointDoc
	if err := decodeJSON(state, &doc, "checkpoint state"); err != nil {
		return database.Checkpoint{}, err
	}
	cp.State = doc.State
	cp.Trace = doc.Trace
	return cp, nil
}
