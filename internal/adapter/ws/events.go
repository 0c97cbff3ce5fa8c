package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/overhearops/overhearops/internal/domain/message"
)

// Event type constants for WebSocket messages.
const (
	EventThreadMessage  = "thread.message"
	EventStageCompleted = "run.stage"
	EventRunCompleted   = "run.completed"
	EventRunFailed      = "run.failed"
	EventReplayDone     = "replay.done"
)

// ThreadMessageEvent carries one delivered thread message.
type ThreadMessageEvent struct {
	ThreadID string          `json:"thread_id"`
	Message  message.Message `json:"message"`
	Delay    float64         `json:"delay"`
}

// StageEvent is broadcast when a pipeline stage or branch finishes.
type StageEvent struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	Stage    string `json:"stage"`
	BranchID string `json:"branch_id,omitempty"`
	Status   string `json:"status"`
}

// RunCompletedEvent is broadcast when a run record is stored.
type RunCompletedEvent struct {
	RunID      string  `json:"run_id"`
	ThreadID   string  `json:"thread_id"`
	Action     string  `json:"action"`
	Certainty  float64 `json:"certainty"`
	WinnerID   string  `json:"winner_plan_id"`
	ReplayHash string  `json:"replay_hash"`
}

// ReplayDoneEvent closes a playback stream.
type ReplayDoneEvent struct {
	ThreadID string `json:"thread_id"`
	Events   int    `json:"events"`
	Hash     string `json:"hash"`
	RunID    string `json:"run_id,omitempty"`
}

// threadScoped is implemented by payloads bound to a thread.
type threadScoped interface {
	thread() string
}

func (e ThreadMessageEvent) thread() string { return e.ThreadID }
func (e StageEvent) thread() string         { return e.ThreadID }
func (e RunCompletedEvent) thread() string  { return e.ThreadID }
func (e ReplayDoneEvent) thread() string    { return e.ThreadID }

// BroadcastEvent marshals a typed event and broadcasts it, routing
// thread-scoped payloads to that thread's subscribers.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	msg, err := envelope(eventType, payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	if ts, ok := payload.(threadScoped); ok {
		h.BroadcastToThread(ctx, ts.thread(), msg)
		return
	}
	h.Broadcast(ctx, msg)
}

func envelope(eventType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: eventType, Payload: json.RawMessage(data)}, nil
}
