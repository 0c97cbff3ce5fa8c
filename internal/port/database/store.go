// Package database defines the persistence ports for run records and
// stage checkpoints.
package database

import (
	"context"
	"time"

	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/trace"
)

// RunStore persists run records. Records are write-once: creating an
// existing run id fails with domain.ErrConflict and never alters the stored
// record. A missing record yields domain.ErrNotFound; an unreadable one
// yields domain.ErrMalformed.
type RunStore interface {
	CreateRunRecord(ctx context.Context, rec *run.Record) error
	GetRunRecord(ctx context.Context, runID string) (*run.Record, error)
	ListRunRecords(ctx context.Context, threadID string, limit int) ([]run.Summary, error)
}

// Checkpoint is the state snapshot taken after a stage completes. Trace
// holds the records emitted up to that stage so a resumed run hashes the
// same as an uninterrupted one.
type Checkpoint struct {
	RunID     string         `json:"run_id"`
	Seq       int            `json:"seq"`
	Stage     run.Stage      `json:"stage"`
	State     run.State      `json:"state"`
	Trace     []trace.Record `json:"trace,omitempty"`
	Mode      string         `json:"mode"`
	Provider  string         `json:"provider"`
	CreatedAt time.Time      `json:"created_at"`
}

// CheckpointDoc is the serialized snapshot body stored by backends.
type CheckpointDoc struct {
	State run.State      `json:"state"`
	Trace []trace.Record `json:"trace,omitempty"`
}

// CheckpointStore persists per-stage snapshots so a run can resume.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoint(ctx context.Context, runID string, stage run.Stage) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error)
}

// Store combines both persistence ports behind one backend.
type Store interface {
	RunStore
	CheckpointStore
	Close() error
}
