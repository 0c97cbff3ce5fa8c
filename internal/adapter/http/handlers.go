package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/coder/websocket"

	"github.com/overhearops/overhearops/internal/adapter/ws"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/replay"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/port/messagequeue"
	"github.com/overhearops/overhearops/internal/runpool"
	"github.com/overhearops/overhearops/internal/service"
)

// Handlers holds the HTTP handler dependencies. Queue, Hub and Pool are
// optional.
type Handlers struct {
	Threads *service.ThreadService
	Runs    *service.RunService
	Replay  *service.ReplayService
	Hub     *ws.Hub
	Queue   messagequeue.Queue
	Pool    *runpool.Pool
	// ReplayDefaults apply when a request omits speed, jitter or seed.
	ReplayDefaults replay.Options
	Version        string
}

// Health reports liveness plus the state of optional dependencies.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "version": h.Version}
	if h.Queue != nil {
		resp["nats"] = h.Queue.IsConnected()
	}
	if h.Hub != nil {
		resp["ws_clients"] = h.Hub.ConnectionCount()
	}
	if h.Pool != nil {
		resp["runs_in_flight"] = h.Pool.InFlight()
		resp["run_slots"] = h.Pool.Limit()
	}
	writeJSON(w, http.StatusOK, resp)
}

type threadSummary struct {
	ThreadID string `json:"thread_id"`
	Messages int    `json:"messages"`
}

// ListThreads returns every known thread with its message count.
func (h *Handlers) ListThreads(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Threads.Threads(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	out := make([]threadSummary, 0, len(counts))
	for id, n := range counts {
		out = append(out, threadSummary{ThreadID: id, Messages: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) threadID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := urlParam(r, "id")
	if err := validateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "thread "+err.Error())
		return "", false
	}
	return id, true
}

// GetThread returns a thread's messages ordered by creation time.
func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}
	msgs, err := h.Threads.Messages(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// PostThreadEvent ingests one message into a thread.
func (h *Handlers) PostThreadEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}
	msg, ok := readJSON[message.Message](w, r, false)
	if !ok {
		return
	}
	if err := h.Threads.Ingest(r.Context(), id, msg); err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"thread_id": id, "message_id": msg.ID})
}

// replayOptions overlays query parameters onto the configured defaults.
func (h *Handlers) replayOptions(w http.ResponseWriter, r *http.Request) (replay.Options, bool) {
	opts := h.ReplayDefaults
	var err error
	if opts.Speed, err = queryFloat(r, "speed", opts.Speed); err != nil {
		writeError(w, http.StatusBadRequest, "invalid speed")
		return opts, false
	}
	if opts.Jitter, err = queryFloat(r, "jitter", opts.Jitter); err != nil || opts.Jitter < 0 {
		writeError(w, http.StatusBadRequest, "invalid jitter")
		return opts, false
	}
	if r.URL.Query().Has("seed") {
		seed, err := queryInt(r, "seed", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid seed")
			return opts, false
		}
		s := int64(seed)
		opts.Seed = &s
	}
	return opts, true
}

type scheduleResponse struct {
	ThreadID     string          `json:"thread"`
	Hash         string          `json:"hash"`
	TotalSeconds float64         `json:"total_seconds"`
	Schedule     replay.Schedule `json:"schedule"`
}

// GetSchedule returns the replay plan for a thread without playing it.
func (h *Handlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}
	opts, ok := h.replayOptions(w, r)
	if !ok {
		return
	}
	sched, err := h.Replay.Schedule(r.Context(), id, opts)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		ThreadID:     id,
		Hash:         sched.Fingerprint(),
		TotalSeconds: sched.Total().Seconds(),
		Schedule:     sched,
	})
}

type replayRequest struct {
	RunAfter bool `json:"run_after"`
}

// StartReplay plays a thread to every hub subscriber in the background and
// returns the schedule fingerprint immediately.
func (h *Handlers) StartReplay(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}
	opts, ok := h.replayOptions(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[replayRequest](w, r, true)
	if !ok {
		return
	}
	if h.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live streaming is disabled")
		return
	}
	sched, err := h.Replay.Schedule(r.Context(), id, opts)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		res, err := h.Replay.Play(ctx, service.ReplayRequest{ThreadID: id, Options: opts, RunAfter: body.RunAfter}, ws.NewHubSink(h.Hub))
		if err != nil {
			slog.ErrorContext(ctx, "background replay failed", "thread", id, "error", err)
			return
		}
		h.Hub.BroadcastEvent(ctx, ws.EventReplayDone, ws.ReplayDoneEvent{
			ThreadID: res.ThreadID, Events: res.Events, Hash: res.Hash, RunID: res.RunID,
		})
	}()

	writeJSON(w, http.StatusAccepted, service.ReplayResult{ThreadID: id, Events: len(sched), Hash: sched.Fingerprint()})
}

// StreamThread upgrades to a websocket and plays the thread to this client
// only, closing after the replay summary.
func (h *Handlers) StreamThread(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}
	opts, ok := h.replayOptions(w, r)
	if !ok {
		return
	}
	if h.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live streaming is disabled")
		return
	}
	if _, err := h.Threads.Messages(r.Context(), id); err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}

	c, err := h.Hub.Accept(w, r)
	if err != nil {
		slog.WarnContext(r.Context(), "stream upgrade failed", "thread", id, "error", err)
		return
	}
	defer func() { _ = c.CloseNow() }()
	ctx := c.CloseRead(r.Context())

	sink := ws.NewConnSink(c)
	res, err := h.Replay.Play(ctx, service.ReplayRequest{ThreadID: id, Options: opts}, sink)
	if err != nil {
		slog.InfoContext(ctx, "stream ended early", "thread", id, "error", err)
		return
	}
	if err := sink.Done(ctx, ws.ReplayDoneEvent{ThreadID: id, Events: res.Events, Hash: res.Hash}); err != nil {
		return
	}
	_ = c.Close(websocket.StatusNormalClosure, "replay complete")
}

// StartRun runs the pipeline on the latest message of a thread.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}
	rec, err := h.Runs.StartThread(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListRuns returns run summaries, optionally filtered by ?thread=.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	thread := r.URL.Query().Get("thread")
	if thread != "" {
		if err := validateID(thread); err != nil {
			writeError(w, http.StatusBadRequest, "thread "+err.Error())
			return
		}
	}
	runs, err := h.Runs.List(r.Context(), thread, limit)
	if err != nil {
		writeDomainError(w, err, "runs not found")
		return
	}
	if runs == nil {
		runs = []run.Summary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handlers) runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := urlParam(r, "id")
	if err := validateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "run "+err.Error())
		return "", false
	}
	return id, true
}

// GetRun returns the full run record.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	rec, err := h.Runs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetRunGraph returns the run's action graph.
func (h *Handlers) GetRunGraph(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	g, err := h.Runs.Graph(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ListCheckpoints returns the stage snapshots of a run.
func (h *Handlers) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	cps, err := h.Runs.Checkpoints(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "no checkpoints for run")
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

type resumeRequest struct {
	After run.Stage `json:"after"`
}

// ResumeRun continues an unfinished run after the named stage.
func (h *Handlers) ResumeRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[resumeRequest](w, r, false)
	if !ok {
		return
	}
	if !req.After.Valid() {
		writeError(w, http.StatusBadRequest, "after must name a pipeline stage")
		return
	}
	rec, err := h.Runs.Resume(r.Context(), id, req.After)
	if err != nil {
		writeDomainError(w, err, "checkpoint not found")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
