package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/replay"
	"github.com/overhearops/overhearops/internal/port/messagequeue"
)

// Sink receives replayed messages in schedule order.
type Sink interface {
	Deliver(ctx context.Context, threadID string, msg message.Message, delay float64) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, threadID string, msg message.Message, delay float64) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, threadID string, msg message.Message, delay float64) error {
	return f(ctx, threadID, msg, delay)
}

// QueueSink publishes replayed messages on the thread event subject.
type QueueSink struct {
	Queue messagequeue.Queue
}

// Deliver publishes one thread event.
func (q QueueSink) Deliver(ctx context.Context, threadID string, msg message.Message, delay float64) error {
	data, err := json.Marshal(messagequeue.ThreadEventPayload{ThreadID: threadID, Message: msg, Delay: delay})
	if err != nil {
		return fmt.Errorf("marshal thread event: %w", err)
	}
	return q.Queue.Publish(ctx, messagequeue.ThreadEventSubject(threadID), data)
}

// ReplayRequest selects a thread and playback options.
type ReplayRequest struct {
	ThreadID string
	Options  replay.Options
	RunAfter bool
}

// ReplayResult summarizes a playback.
type ReplayResult struct {
	ThreadID string `json:"thread"`
	Events   int    `json:"events"`
	Hash     string `json:"hash"`
	RunID    string `json:"run_id,omitempty"`
}

// ReplayService plays recorded threads back with their original pacing.
type ReplayService struct {
	threads *ThreadService
	runs    *RunService
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewReplayService creates a ReplayService. runs may be nil when playback
// never triggers a run.
func NewReplayService(threads *ThreadService, runs *RunService) *ReplayService {
	return &ReplayService{threads: threads, runs: runs, sleep: sleepContext}
}

// Schedule computes the delivery plan for a thread without playing it.
func (s *ReplayService) Schedule(ctx context.Context, threadID string, opts replay.Options) (replay.Schedule, error) {
	msgs, err := s.threads.Messages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	sched, err := replay.Build(msgs, opts)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", threadID, err)
	}
	return sched, nil
}

// Play delivers each scheduled message to sink after its delay, strictly in
// order, then optionally runs the pipeline on the thread.
func (s *ReplayService) Play(ctx context.Context, req ReplayRequest, sink Sink) (*ReplayResult, error) {
	sched, err := s.Schedule(ctx, req.ThreadID, req.Options)
	if err != nil {
		return nil, err
	}

	for i, item := range sched {
		if err := s.sleep(ctx, item.Wait()); err != nil {
			return nil, fmt.Errorf("replay %s interrupted after %d events: %w", req.ThreadID, i, err)
		}
		if err := sink.Deliver(ctx, req.ThreadID, item.Message, item.Delay); err != nil {
			return nil, fmt.Errorf("deliver %s: %w", item.Message.ID, err)
		}
	}

	res := &ReplayResult{ThreadID: req.ThreadID, Events: len(sched), Hash: sched.Fingerprint()}
	slog.InfoContext(ctx, "replay finished", "thread", req.ThreadID, "events", res.Events, "hash", res.Hash)

	if req.RunAfter {
		if s.runs == nil {
			return res, fmt.Errorf("replay %s: run requested but no run service", req.ThreadID)
		}
		rec, err := s.runs.StartThread(ctx, req.ThreadID)
		if err != nil {
			return res, fmt.Errorf("replay %s run: %w", req.ThreadID, err)
		}
		res.RunID = rec.RunID
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
