package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	ohhttp "github.com/overhearops/overhearops/internal/adapter/http"
	"github.com/overhearops/overhearops/internal/adapter/ndjson"
	"github.com/overhearops/overhearops/internal/adapter/ristretto"
	"github.com/overhearops/overhearops/internal/adapter/sqlite"
	"github.com/overhearops/overhearops/internal/adapter/ws"
	"github.com/overhearops/overhearops/internal/domain/replay"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/middleware"
	"github.com/overhearops/overhearops/internal/runpool"
	"github.com/overhearops/overhearops/internal/service"
)

const ciThread = `{"id":"m1","createdDateTime":"2024-05-01T10:00:00Z","body":{"content":"Nightly pipeline red again"}}
{"id":"m3","createdDateTime":"2024-05-01T10:00:05Z","body":{"content":"CI failing with timeout"}}
{"id":"m2","createdDateTime":"2024-05-01T10:00:02Z","body":{"content":"pytest rerun did not help"}}
`

type env struct {
	handler http.Handler
	hub     *ws.Hub
}

func newEnv(t *testing.T, opts ohhttp.RouterOptions) *env {
	t.Helper()
	dir := t.TempDir()
	threadsDir := filepath.Join(dir, "threads")
	if err := os.MkdirAll(threadsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(threadsDir, "ci_flake.ndjson"), []byte(ciThread), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := ws.NewHub("")
	threads := service.NewThreadService(ndjson.New(threadsDir), nil, hub)
	pipeline := service.NewPipeline(
		service.PipelineConfig{IntentThreshold: 0.6},
		service.NewPlanner(nil, 3, nil, nil),
		service.NewJudge(nil, nil),
		service.WithCheckpoints(store),
		service.WithBroadcaster(hub),
	)
	pool := runpool.New(2)
	runs := service.NewRunService(service.RunServiceDeps{
		Pipeline: pipeline,
		Store:    store,
		Threads:  threads,
		Events:   hub,
		Pool:     pool,
		Mode:     "heuristic",
		Provider: "heuristic",
	})
	h := &ohhttp.Handlers{
		Threads:        threads,
		Runs:           runs,
		Replay:         service.NewReplayService(threads, runs),
		Hub:            hub,
		Pool:           pool,
		ReplayDefaults: replay.DefaultOptions(),
		Version:        "test",
	}
	return &env{handler: ohhttp.NewRouter(h, opts), hub: hub}
}

func (e *env) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.1:1234"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})
	rec := e.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["run_slots"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get(middleware.HeaderRequestID) == "" {
		t.Error("request id header missing")
	}
}

func TestThreads(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})

	rec := e.do(t, http.MethodGet, "/api/v1/threads", "")
	list := decode[[]map[string]any](t, rec)
	if len(list) != 1 || list[0]["thread_id"] != "ci_flake" || list[0]["messages"] != float64(3) {
		t.Errorf("threads = %v", list)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/threads/ci_flake", "")
	msgs := decode[[]map[string]any](t, rec)
	if len(msgs) != 3 || msgs[2]["id"] != "m3" {
		t.Errorf("messages = %v", msgs)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/threads/unknown", http.StatusNotFound},
		{"/api/v1/threads/..secret", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := e.do(t, http.MethodGet, tt.path, ""); rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestPostThreadEvent(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})

	rec := e.do(t, http.MethodPost, "/api/v1/threads/ci_flake/events",
		`{"id":"m4","createdDateTime":"2024-05-01T10:01:00Z","body":{"content":"still flaky"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	msgs := decode[[]map[string]any](t, e.do(t, http.MethodGet, "/api/v1/threads/ci_flake", ""))
	if len(msgs) != 4 || msgs[3]["id"] != "m4" {
		t.Errorf("messages = %v", msgs)
	}

	bad := []string{`{"body":{"content":"no id"}}`, `{"id":"m9","body":{"content":"no timestamp"}}`, `{nope`}
	for _, b := range bad {
		if rec := e.do(t, http.MethodPost, "/api/v1/threads/ci_flake/events", b); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", b, rec.Code)
		}
	}
}

func TestSchedule(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})

	rec := e.do(t, http.MethodGet, "/api/v1/threads/ci_flake/schedule?speed=1&jitter=0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["total_seconds"] != float64(5) || body["hash"] == "" {
		t.Errorf("schedule = %v", body)
	}

	a := decode[map[string]any](t, e.do(t, http.MethodGet, "/api/v1/threads/ci_flake/schedule?seed=42", ""))
	b := decode[map[string]any](t, e.do(t, http.MethodGet, "/api/v1/threads/ci_flake/schedule?seed=42", ""))
	if a["hash"] != b["hash"] {
		t.Error("seeded schedule not stable")
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/threads/ci_flake/schedule?speed=fast", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad speed status = %d", rec.Code)
	}
}

func TestRunLifecycle(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})

	rec := e.do(t, http.MethodPost, "/api/v1/threads/ci_flake/runs", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d body=%s", rec.Code, rec.Body.String())
	}
	record := decode[run.Record](t, rec)
	if record.Gate.Action != "approve" || record.Verdict.WinningPlan.ID != "plan-quarantine" {
		t.Errorf("record gate=%+v winner=%s", record.Gate, record.Verdict.WinningPlan.ID)
	}

	got := decode[run.Record](t, e.do(t, http.MethodGet, "/api/v1/runs/"+record.RunID, ""))
	if got.ReplayHash != record.ReplayHash {
		t.Error("fetched record differs")
	}

	graph := decode[map[string][]any](t, e.do(t, http.MethodGet, "/api/v1/runs/"+record.RunID+"/graph", ""))
	if len(graph["nodes"]) != 9 {
		t.Errorf("graph nodes = %d", len(graph["nodes"]))
	}

	cps := decode[[]map[string]any](t, e.do(t, http.MethodGet, "/api/v1/runs/"+record.RunID+"/checkpoints", ""))
	if len(cps) != 7 {
		t.Errorf("checkpoints = %d", len(cps))
	}

	list := decode[[]map[string]any](t, e.do(t, http.MethodGet, "/api/v1/runs?thread=ci_flake", ""))
	if len(list) != 1 || list[0]["run_id"] != record.RunID {
		t.Errorf("list = %v", list)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/runs/"+record.RunID+"/resume", `{"after":"judge"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("resume finished run status = %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/api/v1/runs/"+record.RunID+"/resume", `{"after":"ship"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("resume unknown stage status = %d", rec.Code)
	}
}

func TestRunErrors(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/runs/missing", http.StatusNotFound},
		{http.MethodGet, "/api/v1/runs/missing/graph", http.StatusNotFound},
		{http.MethodGet, "/api/v1/runs/missing/checkpoints", http.StatusNotFound},
		{http.MethodGet, "/api/v1/runs?limit=0", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/threads/unknown/runs", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := e.do(t, tt.method, tt.path, ""); rec.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}

	list := e.do(t, http.MethodGet, "/api/v1/runs", "")
	if strings.TrimSpace(list.Body.String()) != "[]" {
		t.Errorf("empty list body = %s", list.Body.String())
	}
}

func TestRunIdempotency(t *testing.T) {
	c, err := ristretto.New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	e := newEnv(t, ohhttp.RouterOptions{Idempotency: c})

	first := decode[run.Record](t, e.do(t, http.MethodPost, "/api/v1/threads/ci_flake/runs", "", middleware.HeaderIdempotencyKey, "k1"))
	c.Wait()
	second := e.do(t, http.MethodPost, "/api/v1/threads/ci_flake/runs", "", middleware.HeaderIdempotencyKey, "k1")
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Fatal("second request was not replayed")
	}
	if decode[run.Record](t, second).RunID != first.RunID {
		t.Error("replayed run id differs")
	}
}

func TestRunRateLimit(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{RunLimiter: middleware.NewRateLimiter(0.001, 1)})
	if rec := e.do(t, http.MethodPost, "/api/v1/threads/ci_flake/runs", ""); rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/threads/ci_flake/runs", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d", rec.Code)
	}
	// reads are not limited
	if rec := e.do(t, http.MethodGet, "/api/v1/runs", ""); rec.Code != http.StatusOK {
		t.Errorf("list status = %d", rec.Code)
	}
}

func TestStreamThread(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/threads/ci_flake/stream?speed=0"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()

	var ids []string
	for {
		var msg ws.Message
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == ws.EventReplayDone {
			var done ws.ReplayDoneEvent
			if err := json.Unmarshal(msg.Payload, &done); err != nil {
				t.Fatal(err)
			}
			if done.Events != 3 || done.Hash == "" {
				t.Errorf("done = %+v", done)
			}
			break
		}
		var ev ws.ThreadMessageEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, ev.Message.ID)
	}
	if strings.Join(ids, ",") != "m1,m2,m3" {
		t.Errorf("delivery order = %v", ids)
	}
}

func TestStreamUnknownThread(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})
	if rec := e.do(t, http.MethodGet, "/api/v1/threads/nope/stream", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStartReplayAccepted(t *testing.T) {
	e := newEnv(t, ohhttp.RouterOptions{})
	rec := e.do(t, http.MethodPost, "/api/v1/threads/ci_flake/replay?speed=0", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	res := decode[service.ReplayResult](t, rec)
	if res.Events != 3 || res.ThreadID != "ci_flake" || res.Hash == "" {
		t.Errorf("result = %+v", res)
	}
}
