package messagequeue

import "github.com/overhearops/overhearops/internal/domain/message"

// ThreadEventPayload is the schema for threads.events.* messages.
type ThreadEventPayload struct {
	ThreadID string          `json:"thread_id"`
	Message  message.Message `json:"message"`
	Delay    float64         `json:"delay"`
}

// RunStartedPayload is the schema for runs.started messages.
type RunStartedPayload struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	Mode     string `json:"mode"`
}

// RunCompletedPayload is the schema for runs.completed messages.
type RunCompletedPayload struct {
	RunID      string  `json:"run_id"`
	ThreadID   string  `json:"thread_id"`
	Action     string  `json:"action"`
	Certainty  float64 `json:"certainty"`
	WinnerID   string  `json:"winner_plan_id"`
	ReplayHash string  `json:"replay_hash"`
}

// RunFailedPayload is the schema for runs.failed messages.
type RunFailedPayload struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	Stage    string `json:"stage,omitempty"`
	Error    string `json:"error"`
}
