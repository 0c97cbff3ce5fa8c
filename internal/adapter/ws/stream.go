package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/overhearops/overhearops/internal/domain/message"
)

// ConnSink delivers replayed messages to a single client connection.
type ConnSink struct {
	conn *websocket.Conn
}

// NewConnSink wraps an accepted connection.
func NewConnSink(c *websocket.Conn) *ConnSink {
	return &ConnSink{conn: c}
}

// Deliver writes one thread message envelope.
func (s *ConnSink) Deliver(ctx context.Context, threadID string, msg message.Message, delay float64) error {
	env, err := envelope(EventThreadMessage, ThreadMessageEvent{ThreadID: threadID, Message: msg, Delay: delay})
	if err != nil {
		return fmt.Errorf("ws envelope: %w", err)
	}
	if err := wsjson.Write(ctx, s.conn, env); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

// Done writes the closing replay summary.
func (s *ConnSink) Done(ctx context.Context, ev ReplayDoneEvent) error {
	env, err := envelope(EventReplayDone, ev)
	if err != nil {
		return fmt.Errorf("ws envelope: %w", err)
	}
	return wsjson.Write(ctx, s.conn, env)
}

// HubSink fans replayed messages out to hub subscribers of the thread.
type HubSink struct {
	hub *Hub
}

// NewHubSink returns a sink broadcasting through hub.
func NewHubSink(hub *Hub) *HubSink {
	return &HubSink{hub: hub}
}

// Deliver broadcasts one thread message.
func (s *HubSink) Deliver(ctx context.Context, threadID string, msg message.Message, delay float64) error {
	s.hub.BroadcastEvent(ctx, EventThreadMessage, ThreadMessageEvent{ThreadID: threadID, Message: msg, Delay: delay})
	return nil
}

// Accept upgrades a request for a single-client stream.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, h.acceptOptions())
}
