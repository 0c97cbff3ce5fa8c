package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/overhearops/overhearops/internal/adapter/ws"
	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/port/broadcast"
	"github.com/overhearops/overhearops/internal/port/messagequeue"
	"github.com/overhearops/overhearops/internal/port/threadsource"
)

// ThreadService merges recorded threads with messages ingested at runtime.
type ThreadService struct {
	source threadsource.Source
	queue  messagequeue.Queue
	events broadcast.Broadcaster

	mu       sync.RWMutex
	ingested map[string][]message.Message
	seen     map[string]map[string]bool
}

// NewThreadService creates a ThreadService. queue and events may be nil.
func NewThreadService(source threadsource.Source, queue messagequeue.Queue, events broadcast.Broadcaster) *ThreadService {
	return &ThreadService{
		source:   source,
		queue:    queue,
		events:   events,
		ingested: make(map[string][]message.Message),
		seen:     make(map[string]map[string]bool),
	}
}

// Threads returns every known thread with its message count.
func (s *ThreadService) Threads(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	if s.source != nil {
		recorded, err := s.source.Threads(ctx)
		if err != nil {
			return nil, fmt.Errorf("list threads: %w", err)
		}
		for id, n := range recorded {
			out[id] = n
		}
	}
	s.mu.RLock()
	for id, msgs := range s.ingested {
		out[id] += len(msgs)
	}
	s.mu.RUnlock()
	return out, nil
}

// Messages returns the recorded and ingested messages of a thread ordered
// by creation time. An id appears once; the recorded copy wins.
func (s *ThreadService) Messages(ctx context.Context, threadID string) ([]message.Message, error) {
	msgs, err := s.recorded(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	msgs = append(msgs, s.ingested[threadID]...)
	s.mu.RUnlock()

	msgs = uniqueByID(msgs)
	if len(msgs) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	message.SortByCreated(msgs)
	return msgs, nil
}

// recorded returns the source messages of a thread; an unknown thread is empty.
func (s *ThreadService) recorded(ctx context.Context, threadID string) ([]message.Message, error) {
	if s.source == nil {
		return nil, nil
	}
	msgs, err := s.source.Messages(ctx, threadID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, err)
	}
	return msgs, nil
}

func uniqueByID(msgs []message.Message) []message.Message {
	seen := make(map[string]bool, len(msgs))
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

// Ingest records a message posted to a thread, publishes it on the thread
// event subject and broadcasts it to live subscribers.
func (s *ThreadService) Ingest(ctx context.Context, threadID string, msg message.Message) error {
	if err := validateIngest(threadID, msg); err != nil {
		return err
	}
	fresh, err := s.add(ctx, threadID, msg)
	if err != nil || !fresh {
		return err
	}

	if s.queue != nil {
		data, err := json.Marshal(messagequeue.ThreadEventPayload{ThreadID: threadID, Message: msg})
		if err != nil {
			return fmt.Errorf("marshal thread event: %w", err)
		}
		if err := s.queue.Publish(ctx, messagequeue.ThreadEventSubject(threadID), data); err != nil {
			slog.WarnContext(ctx, "publish thread event", "thread", threadID, "error", err)
		}
	}
	s.broadcast(ctx, threadID, msg, 0)
	return nil
}

func validateIngest(threadID string, msg message.Message) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("thread id is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("message id is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(msg.CreatedDateTime) == "" {
		return fmt.Errorf("message %s: createdDateTime is required: %w", msg.ID, domain.ErrValidation)
	}
	if _, err := msg.CreatedAt(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// add stores msg unless the recorded thread or an earlier ingest already
// holds its id. It reports whether msg was new.
func (s *ThreadService) add(ctx context.Context, threadID string, msg message.Message) (bool, error) {
	recorded, err := s.recorded(ctx, threadID)
	if err != nil {
		return false, err
	}
	for _, m := range recorded {
		if m.ID == msg.ID {
			return false, nil
		}
	}
	return s.store(threadID, msg), nil
}

// store appends msg unless its id was already ingested on the thread.
func (s *ThreadService) store(threadID string, msg message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.seen[threadID]
	if ids == nil {
		ids = make(map[string]bool)
		s.seen[threadID] = ids
	}
	if ids[msg.ID] {
		return false
	}
	ids[msg.ID] = true
	s.ingested[threadID] = append(s.ingested[threadID], msg)
	return true
}

func (s *ThreadService) broadcast(ctx context.Context, threadID string, msg message.Message, delay float64) {
	if s.events == nil {
		return
	}
	s.events.BroadcastEvent(ctx, ws.EventThreadMessage, ws.ThreadMessageEvent{
		ThreadID: threadID, Message: msg, Delay: delay,
	})
}

// HandleThreadEvent consumes a thread event published by another process.
func (s *ThreadService) HandleThreadEvent(ctx context.Context, subject string, data []byte) error {
	var p messagequeue.ThreadEventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode %s: %w", subject, err)
	}
	threadID := p.ThreadID
	if threadID == "" {
		threadID = strings.TrimPrefix(subject, messagequeue.SubjectThreadEvents+".")
	}
	if err := validateIngest(threadID, p.Message); err != nil {
		return err
	}
	fresh, err := s.add(ctx, threadID, p.Message)
	if err != nil {
		return err
	}
	if fresh {
		s.broadcast(ctx, threadID, p.Message, p.Delay)
	}
	return nil
}

// StartSubscriber consumes thread events from the queue until cancelled.
func (s *ThreadService) StartSubscriber(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectThreadEvents+".>", s.HandleThreadEvent)
}
