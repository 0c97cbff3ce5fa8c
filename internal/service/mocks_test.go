package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/port/database"
	"github.com/overhearops/overhearops/internal/port/messagequeue"
)

// memStore is an in-memory database.Store that round-trips through JSON
// like the real backends.
type memStore struct {
	mu          sync.Mutex
	records     map[string][]byte
	checkpoints map[string]map[run.Stage][]byte
	saveErr     error
}

func newMemStore() *memStore {
	return &memStore{
		records:     make(map[string][]byte),
		checkpoints: make(map[string]map[run.Stage][]byte),
	}
}

func (m *memStore) CreateRunRecord(_ context.Context, rec *run.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.RunID]; ok {
		return fmt.Errorf("create %s: %w", rec.RunID, domain.ErrConflict)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	m.records[rec.RunID] = data
	return nil
}

func (m *memStore) GetRunRecord(_ context.Context, runID string) (*run.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[runID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", runID, domain.ErrNotFound)
	}
	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", runID, domain.ErrMalformed)
	}
	return &rec, nil
}

func (m *memStore) ListRunRecords(ctx context.Context, threadID string, limit int) ([]run.Summary, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var out []run.Summary
	for _, id := range ids {
		rec, err := m.GetRunRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if threadID == "" || rec.ThreadID == threadID {
			out = append(out, rec.Summarize())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SaveCheckpoint(_ context.Context, cp database.Checkpoint) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoints[cp.RunID] == nil {
		m.checkpoints[cp.RunID] = make(map[run.Stage][]byte)
	}
	m.checkpoints[cp.RunID][cp.Stage] = data
	return nil
}

func (m *memStore) LoadCheckpoint(_ context.Context, runID string, stage run.Stage) (*database.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.checkpoints[runID][stage]
	if !ok {
		return nil, fmt.Errorf("checkpoint %s/%s: %w", runID, stage, domain.ErrNotFound)
	}
	var cp database.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (m *memStore) ListCheckpoints(ctx context.Context, runID string) ([]database.Checkpoint, error) {
	var out []database.Checkpoint
	for _, stage := range run.Stages {
		cp, err := m.LoadCheckpoint(ctx, runID, stage)
		if err != nil {
			continue
		}
		out = append(out, *cp)
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// fakeProvider serves canned documents per task.
type fakeProvider struct {
	docs  map[string]string
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GenerateJSON(_ context.Context, task, threadID string, _ any) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[task]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", threadID, task, domain.ErrNotFound)
	}
	return []byte(doc), nil
}

// recordingQueue captures publishes and hands subscriptions back to tests.
type recordingQueue struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]messagequeue.Handler
}

type published struct {
	subject string
	data    []byte
}

func (q *recordingQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{subject: subject, data: data})
	return nil
}

func (q *recordingQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *recordingQueue) Drain() error      { return nil }
func (q *recordingQueue) Close() error      { return nil }
func (q *recordingQueue) IsConnected() bool { return true }

func (q *recordingQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, p := range q.published {
		out[i] = p.subject
	}
	return out
}

// recordingBroadcaster captures broadcast event types.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// staticSource is a fixed thread source.
type staticSource map[string][]message.Message

func (s staticSource) Threads(context.Context) (map[string]int, error) {
	out := make(map[string]int, len(s))
	for id, msgs := range s {
		out[id] = len(msgs)
	}
	return out, nil
}

func (s staticSource) Messages(_ context.Context, threadID string) ([]message.Message, error) {
	msgs, ok := s[threadID]
	if !ok || len(msgs) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return append([]message.Message(nil), msgs...), nil
}

func msg(id, ts, content string) message.Message {
	return message.Message{ID: id, CreatedDateTime: ts, Body: message.Body{Content: content}}
}

func ciThread() []message.Message {
	return []message.Message{
		msg("m1", "2024-05-01T10:00:00Z", "Nightly pipeline red again"),
		msg("m2", "2024-05-01T10:00:02Z", "pytest rerun did not help"),
		msg("m3", "2024-05-01T10:00:05Z", "CI failing with timeout"),
	}
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
