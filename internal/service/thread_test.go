package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/replay"
	"github.com/overhearops/overhearops/internal/port/messagequeue"
)

func TestThreadServiceMergesIngested(t *testing.T) {
	q := &recordingQueue{}
	b := &recordingBroadcaster{}
	s := NewThreadService(staticSource{"ci_flake": ciThread()}, q, b)
	ctx := context.Background()

	late := msg("m0", "2024-05-01T09:59:00Z", "earlier context")
	if err := s.Ingest(ctx, "ci_flake", late); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := s.Ingest(ctx, "fresh", msg("f1", "2024-05-03T00:00:00Z", "hello")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	threads, err := s.Threads(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if threads["ci_flake"] != 4 || threads["fresh"] != 1 {
		t.Errorf("threads = %v", threads)
	}

	msgs, err := s.Messages(ctx, "ci_flake")
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ID != "m0" || msgs[len(msgs)-1].ID != "m3" {
		t.Errorf("messages not ordered by creation: first=%s last=%s", msgs[0].ID, msgs[len(msgs)-1].ID)
	}

	subjects := q.subjects()
	if len(subjects) != 2 || subjects[0] != messagequeue.ThreadEventSubject("ci_flake") {
		t.Errorf("subjects = %v", subjects)
	}
	if b.count("thread.message") != 2 {
		t.Errorf("broadcasts = %d", b.count("thread.message"))
	}
}

func TestThreadServiceIngestValidation(t *testing.T) {
	s := NewThreadService(nil, nil, nil)
	tests := []struct {
		name   string
		thread string
		id     string
		ts     string
	}{
		{"missing thread", " ", "m1", ""},
		{"missing id", "t", "", ""},
		{"bad timestamp", "t", "m1", "yesterday"},
		{"missing timestamp", "t", "m1", ""},
		{"blank timestamp", "t", "m1", "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Ingest(context.Background(), tt.thread, msg(tt.id, tt.ts, "x"))
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestThreadServiceDedupes(t *testing.T) {
	q := &recordingQueue{}
	s := NewThreadService(nil, q, nil)
	ctx := context.Background()
	m := msg("m1", "2024-05-01T10:00:00Z", "timeout")

	for range 2 {
		if err := s.Ingest(ctx, "t", m); err != nil {
			t.Fatal(err)
		}
	}
	msgs, _ := s.Messages(ctx, "t")
	if len(msgs) != 1 || len(q.subjects()) != 1 {
		t.Errorf("duplicate ingest: messages=%d publishes=%d", len(msgs), len(q.subjects()))
	}
}

func TestThreadServiceReingestKeepsScheduleStable(t *testing.T) {
	q := &recordingQueue{}
	b := &recordingBroadcaster{}
	s := NewThreadService(staticSource{"ci_flake": ciThread()}, q, b)
	ctx := context.Background()
	seed := int64(3)
	opts := replay.Options{Speed: 1, Jitter: 0.5, Seed: &seed}

	schedule := func() replay.Schedule {
		t.Helper()
		msgs, err := s.Messages(ctx, "ci_flake")
		if err != nil {
			t.Fatal(err)
		}
		sched, err := replay.Build(msgs, opts)
		if err != nil {
			t.Fatal(err)
		}
		return sched
	}
	before := schedule()

	for _, m := range ciThread() {
		if err := s.Ingest(ctx, "ci_flake", m); err != nil {
			t.Fatalf("Ingest %s: %v", m.ID, err)
		}
	}
	after := schedule()

	if len(after) != len(before) {
		t.Fatalf("thread grew from %d to %d messages", len(before), len(after))
	}
	if after.Fingerprint() != before.Fingerprint() {
		t.Error("re-ingesting recorded messages changed the schedule fingerprint")
	}
	threads, _ := s.Threads(ctx)
	if threads["ci_flake"] != 3 {
		t.Errorf("count = %d, want 3", threads["ci_flake"])
	}
	if len(q.subjects()) != 0 || b.count("thread.message") != 0 {
		t.Errorf("recorded messages republished: publishes=%d broadcasts=%d", len(q.subjects()), b.count("thread.message"))
	}
}

func TestThreadServiceHandleThreadEventSkipsRecorded(t *testing.T) {
	b := &recordingBroadcaster{}
	s := NewThreadService(staticSource{"ci_flake": ciThread()}, nil, b)
	data, _ := json.Marshal(messagequeue.ThreadEventPayload{ThreadID: "ci_flake", Message: ciThread()[0]})

	if err := s.HandleThreadEvent(context.Background(), messagequeue.ThreadEventSubject("ci_flake"), data); err != nil {
		t.Fatalf("HandleThreadEvent: %v", err)
	}
	msgs, _ := s.Messages(context.Background(), "ci_flake")
	if len(msgs) != 3 || b.count("thread.message") != 0 {
		t.Errorf("messages=%d broadcasts=%d", len(msgs), b.count("thread.message"))
	}
}

func TestThreadServiceUnknownThread(t *testing.T) {
	s := NewThreadService(staticSource{}, nil, nil)
	if _, err := s.Messages(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestThreadServiceHandleThreadEvent(t *testing.T) {
	b := &recordingBroadcaster{}
	q := &recordingQueue{}
	s := NewThreadService(nil, q, b)
	ctx := context.Background()

	cancel, err := s.StartSubscriber(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()
	h := q.handlers[messagequeue.SubjectThreadEvents+".>"]
	if h == nil {
		t.Fatal("subscriber not registered")
	}

	data, _ := json.Marshal(messagequeue.ThreadEventPayload{
		Message: msg("r1", "2024-05-01T10:00:00Z", "remote"),
		Delay:   1.5,
	})
	subject := messagequeue.ThreadEventSubject("remote_thread")
	if err := h(ctx, subject, data); err != nil {
		t.Fatalf("handler: %v", err)
	}
	// redelivery is ignored
	if err := h(ctx, subject, data); err != nil {
		t.Fatalf("handler: %v", err)
	}

	msgs, err := s.Messages(ctx, "remote_thread")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("messages = %v err=%v", msgs, err)
	}
	if b.count("thread.message") != 1 {
		t.Errorf("broadcasts = %d", b.count("thread.message"))
	}
	if len(q.subjects()) != 0 {
		t.Error("consumed events must not be republished")
	}

	if err := h(ctx, subject, []byte("{nope")); err == nil {
		t.Error("expected decode error")
	}
}
