package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	otelx "github.com/overhearops/overhearops/internal/adapter/otel"
	"github.com/overhearops/overhearops/internal/adapter/ws"
	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/trace"
	"github.com/overhearops/overhearops/internal/logger"
	"github.com/overhearops/overhearops/internal/port/broadcast"
	"github.com/overhearops/overhearops/internal/port/cache"
	"github.com/overhearops/overhearops/internal/port/database"
	"github.com/overhearops/overhearops/internal/port/messagequeue"
	"github.com/overhearops/overhearops/internal/runpool"
)

// RunServiceDeps wires a RunService. Only Pipeline and Store are required.
type RunServiceDeps struct {
	Pipeline *Pipeline
	Store    database.Store
	Threads  *ThreadService
	Cache    cache.Cache
	CacheTTL time.Duration
	Queue    messagequeue.Queue
	Events   broadcast.Broadcaster
	Metrics  *otelx.Metrics
	Pool     *runpool.Pool
	Mode     string
	Provider string
}

// RunService starts pipeline runs and serves their records.
type RunService struct {
	pipeline *Pipeline
	store    database.Store
	threads  *ThreadService
	cache    cache.Cache
	cacheTTL time.Duration
	queue    messagequeue.Queue
	events   broadcast.Broadcaster
	metrics  *otelx.Metrics
	pool     *runpool.Pool
	mode     string
	provider string
	now      func() time.Time
}

// NewRunService creates a RunService.
func NewRunService(deps RunServiceDeps) *RunService {
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RunService{
		pipeline: deps.Pipeline,
		store:    deps.Store,
		threads:  deps.Threads,
		cache:    deps.Cache,
		cacheTTL: ttl,
		queue:    deps.Queue,
		events:   deps.Events,
		metrics:  deps.Metrics,
		pool:     deps.Pool,
		mode:     deps.Mode,
		provider: deps.Provider,
		now:      time.Now,
	}
}

// NewRunID returns "<mode>-<thread>-<uuid>".
func NewRunID(mode, threadID string) string {
	return fmt.Sprintf("%s-%s-%s", mode, threadID, uuid.NewString())
}

// StartThread runs the pipeline on the latest message of threadID.
func (s *RunService) StartThread(ctx context.Context, threadID string) (*run.Record, error) {
	if s.threads == nil {
		return nil, fmt.Errorf("start run: no thread source: %w", domain.ErrValidation)
	}
	msgs, err := s.threads.Messages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return s.Execute(ctx, threadID, msgs[len(msgs)-1])
}

// Execute runs the pipeline on msg and stores the resulting record.
func (s *RunService) Execute(ctx context.Context, threadID string, msg message.Message) (*run.Record, error) {
	if threadID == "" {
		return nil, fmt.Errorf("execute run: thread id is required: %w", domain.ErrValidation)
	}
	rc := run.NewContext(NewRunID(s.mode, threadID), threadID, s.mode, s.provider)

	var rec *run.Record
	err := s.pool.Run(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.execute(ctx, rc, func(ctx context.Context) (run.State, error) {
			return s.pipeline.Run(ctx, rc, run.NewState(threadID, msg))
		})
		return err
	})
	return rec, err
}

// Resume continues a run from the checkpoint taken after stage `after`
// and stores its record. A run whose record already exists cannot resume.
func (s *RunService) Resume(ctx context.Context, runID string, after run.Stage) (*run.Record, error) {
	if _, err := s.store.GetRunRecord(ctx, runID); err == nil {
		return nil, fmt.Errorf("resume %s: record exists: %w", runID, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("resume %s: %w", runID, err)
	}

	var rec *run.Record
	err := s.pool.Run(ctx, func(ctx context.Context) error {
		ctx = logger.WithRunID(ctx, runID)
		rc, st, err := s.pipeline.Resume(ctx, runID, after)
		if err != nil {
			if rc.RunID == "" {
				return err
			}
			s.fail(ctx, rc, err)
			return err
		}
		rec, err = s.finish(ctx, rc, st, s.now())
		return err
	})
	return rec, err
}

func (s *RunService) execute(ctx context.Context, rc run.Context, body func(context.Context) (run.State, error)) (*run.Record, error) {
	ctx = logger.WithRunID(ctx, rc.RunID)
	ctx, span := otelx.StartRunSpan(ctx, rc.RunID, rc.ThreadID, rc.Mode)
	defer span.End()

	start := s.now()
	slog.InfoContext(ctx, "run started", "run_id", rc.RunID, "thread", rc.ThreadID, "mode", rc.Mode)
	if s.metrics != nil {
		s.metrics.RunsStarted.Add(ctx, 1)
	}
	s.publish(ctx, messagequeue.SubjectRunStarted, messagequeue.RunStartedPayload{
		RunID: rc.RunID, ThreadID: rc.ThreadID, Mode: rc.Mode,
	})

	st, err := body(ctx)
	if err != nil {
		s.fail(ctx, rc, err)
		span.RecordError(err)
		return nil, err
	}
	return s.finish(ctx, rc, st, start)
}

func (s *RunService) finish(ctx context.Context, rc run.Context, st run.State, start time.Time) (*run.Record, error) {
	rec, err := run.NewRecord(rc, st, s.now())
	if err != nil {
		s.fail(ctx, rc, err)
		return nil, fmt.Errorf("build record: %w", err)
	}
	if err := s.store.CreateRunRecord(ctx, rec); err != nil {
		s.fail(ctx, rc, err)
		return nil, fmt.Errorf("store record: %w", err)
	}
	s.cacheRecord(ctx, rec)

	if s.metrics != nil {
		s.metrics.RunsCompleted.Add(ctx, 1)
		s.metrics.ObserveGate(ctx, string(rec.Gate.Action))
		s.metrics.RunDuration.Record(ctx, s.now().Sub(start).Seconds())
	}
	s.publish(ctx, messagequeue.SubjectRunCompleted, messagequeue.RunCompletedPayload{
		RunID:      rec.RunID,
		ThreadID:   rec.ThreadID,
		Action:     string(rec.Gate.Action),
		Certainty:  rec.Gate.Certainty,
		WinnerID:   rec.Verdict.WinningPlan.ID,
		ReplayHash: rec.ReplayHash,
	})
	if s.events != nil {
		s.events.BroadcastEvent(ctx, ws.EventRunCompleted, ws.RunCompletedEvent{
			RunID:      rec.RunID,
			ThreadID:   rec.ThreadID,
			Action:     string(rec.Gate.Action),
			Certainty:  rec.Gate.Certainty,
			WinnerID:   rec.Verdict.WinningPlan.ID,
			ReplayHash: rec.ReplayHash,
		})
	}
	slog.InfoContext(ctx, "run completed",
		"run_id", rec.RunID,
		"action", rec.Gate.Action,
		"winner", rec.Verdict.WinningPlan.ID,
		"replay_hash", rec.ReplayHash,
	)
	return rec, nil
}

func (s *RunService) fail(ctx context.Context, rc run.Context, err error) {
	payload := messagequeue.RunFailedPayload{RunID: rc.RunID, ThreadID: rc.ThreadID, Error: err.Error()}
	var se *StageError
	if errors.As(err, &se) {
		payload.Stage = string(se.Stage)
	}
	slog.ErrorContext(ctx, "run failed", "run_id", rc.RunID, "stage", payload.Stage, "error", err)
	if s.metrics != nil {
		s.metrics.RunsFailed.Add(ctx, 1)
	}
	s.publish(ctx, messagequeue.SubjectRunFailed, payload)
	if s.events != nil {
		s.events.BroadcastEvent(ctx, ws.EventRunFailed, payload)
	}
}

// publish sends a run lifecycle event; failures are logged, never fatal.
func (s *RunService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal run event", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "publish run event", "subject", subject, "error", err)
	}
}

func cacheKey(runID string) string { return "run:" + runID }

func (s *RunService) cacheRecord(ctx context.Context, rec *run.Record) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(rec.RunID), data, s.cacheTTL); err != nil {
		slog.DebugContext(ctx, "cache set failed", "run_id", rec.RunID, "error", err)
	}
}

// Get returns a stored record, served from cache when possible.
func (s *RunService) Get(ctx context.Context, runID string) (*run.Record, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cacheKey(runID)); err == nil && ok {
			var rec run.Record
			if err := json.Unmarshal(data, &rec); err == nil {
				return &rec, nil
			}
			_ = s.cache.Delete(ctx, cacheKey(runID))
		}
	}
	rec, err := s.store.GetRunRecord(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.cacheRecord(ctx, rec)
	return rec, nil
}

// List returns record summaries, newest first. An empty threadID lists all.
func (s *RunService) List(ctx context.Context, threadID string, limit int) ([]run.Summary, error) {
	return s.store.ListRunRecords(ctx, threadID, limit)
}

// Graph returns the action graph of a run.
func (s *RunService) Graph(ctx context.Context, runID string) (*trace.Graph, error) {
	rec, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &rec.TraceGraph, nil
}

// Checkpoints returns the stage snapshots of a run in stage order.
func (s *RunService) Checkpoints(ctx context.Context, runID string) ([]database.Checkpoint, error) {
	cps, err := s.store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, fmt.Errorf("checkpoints %s: %w", runID, domain.ErrNotFound)
	}
	return cps, nil
}
