package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// queue is shared by an AsyncHandler and every handler derived from it
// through WithAttrs or WithGroup.
type queue struct {
	entries chan entry
	workers sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// entry pairs a record with the handler chain that must format it, so
// derived handlers keep their attributes while sharing one queue.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to background workers so stages never wait on
// log output. Records are formatted with a background context; attributes
// taken from the context must be attached before Handle is reached.
type AsyncHandler struct {
	inner slog.Handler
	q     *queue
}

// NewAsyncHandler starts workers draining a queue of size entries into
// inner. Values below 1 clamp to 1.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	size = max(size, 1)
	workers = max(workers, 1)

	q := &queue{entries: make(chan entry, size)}
	for range workers {
		q.workers.Add(1)
		go func() {
			defer q.workers.Done()
			for e := range q.entries {
				_ = e.h.Handle(context.Background(), e.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues rec, or counts it as dropped when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.q.entries <- entry{h: h.inner, rec: rec}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns how many records were discarded at a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains queued records and stops the workers. When records were
// dropped, a final warning with the count is written synchronously.
// Close is safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		close(h.q.entries)
		h.q.workers.Wait()

		n := h.q.dropped.Load()
		if n == 0 || !h.inner.Enabled(context.Background(), slog.LevelWarn) {
			return
		}
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async log records dropped", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	})
}
