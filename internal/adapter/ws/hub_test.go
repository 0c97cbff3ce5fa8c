package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/overhearops/overhearops/internal/domain/message"
)

func TestNewHub(t *testing.T) {
	hub := NewHub("")
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestNewHubOriginPatterns(t *testing.T) {
	hub := NewHub("http://localhost:3000")
	if len(hub.originPatterns) != 1 || hub.originPatterns[0] != "localhost:3000" {
		t.Fatalf("unexpected origin patterns %v", hub.originPatterns)
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub("")

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub("")

	// A channel cannot be marshaled to JSON; should log, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub("")

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel, threadID: "t1"}
	hub.remove(c)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitForConns(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, hub.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversThreadScopedEvents(t *testing.T) {
	hub := NewHub("")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	all := dial(t, srv, "")
	other := dial(t, srv, "?thread=security_alert")
	waitForConns(t, hub, 2)

	hub.BroadcastEvent(context.Background(), EventStageCompleted, StageEvent{
		RunID: "r1", ThreadID: "ci_flake", Stage: "judge", Status: "ok",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got Message
	if err := wsjson.Read(ctx, all, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != EventStageCompleted {
		t.Fatalf("expected %s, got %s", EventStageCompleted, got.Type)
	}
	var ev StageEvent
	if err := json.Unmarshal(got.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Stage != "judge" || ev.ThreadID != "ci_flake" {
		t.Fatalf("unexpected payload %+v", ev)
	}

	// The filtered connection must not receive the ci_flake event.
	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	if err := wsjson.Read(short, other, &got); err == nil {
		t.Fatalf("filtered connection received %s", got.Type)
	}
}

func TestHubSinkBroadcastsMessages(t *testing.T) {
	hub := NewHub("")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv, "?thread=ci_flake")
	waitForConns(t, hub, 1)

	sink := NewHubSink(hub)
	msg := message.Message{ID: "m1", Body: message.Body{Content: "CI failing"}}
	if err := sink.Deliver(context.Background(), "ci_flake", msg, 1.5); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got Message
	if err := wsjson.Read(ctx, c, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev ThreadMessageEvent
	if err := json.Unmarshal(got.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Message.ID != "m1" || ev.Delay != 1.5 {
		t.Fatalf("unexpected event %+v", ev)
	}
}
