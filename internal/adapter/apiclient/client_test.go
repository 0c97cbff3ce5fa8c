package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/overhearops/overhearops/internal/adapter/apiclient"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/resilience"
)

func TestDeliverPostsEvent(t *testing.T) {
	var got message.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/threads/ci_flake/events" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := apiclient.NewClient(srv.URL + "/")
	msg := message.Message{ID: "m1", CreatedDateTime: "2024-05-01T10:00:00Z", Body: message.Body{Content: "CI failing"}}
	if err := c.Deliver(context.Background(), "ci_flake", msg, 1.5); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got.ID != "m1" || got.Content() != "CI failing" {
		t.Errorf("server received %+v", got)
	}
}

func TestStartAndGetRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/threads/ci_flake/runs":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(run.Record{RunID: "heuristic-ci_flake-1", ThreadID: "ci_flake"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/runs/heuristic-ci_flake-1":
			_ = json.NewEncoder(w).Encode(run.Record{RunID: "heuristic-ci_flake-1", ReplayHash: "abc"})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"run not found"}`))
		}
	}))
	defer srv.Close()

	c := apiclient.NewClient(srv.URL)
	rec, err := c.StartRun(context.Background(), "ci_flake")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	got, err := c.GetRun(context.Background(), rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ReplayHash != "abc" {
		t.Errorf("replay hash = %q", got.ReplayHash)
	}

	_, err = c.GetRun(context.Background(), "missing")
	var se *apiclient.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Message != "run not found" {
		t.Errorf("err = %v", err)
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := apiclient.NewClient(srv.URL)
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))
	for range 4 {
		_, _ = c.GetRun(context.Background(), "r1")
	}
	if calls != 2 {
		t.Errorf("server calls = %d, want 2 once the breaker opened", calls)
	}
}
