package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/overhearops/overhearops/internal/port/cache"
)

// HeaderIdempotencyKey lets clients retry a run start without running twice.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotentBody = 1 << 20

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// POST requests. Only successful responses are stored, for ttl.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if r.Method != http.MethodPost || key == "" || c == nil {
				next.ServeHTTP(w, r)
				return
			}
			ckey := "idem:" + r.URL.Path + ":" + key

			if data, ok, err := c.Get(r.Context(), ckey); err == nil && ok {
				var sr storedResponse
				if err := json.Unmarshal(data, &sr); err == nil {
					w.Header().Set("Content-Type", sr.ContentType)
					w.Header().Set("Idempotent-Replay", "true")
					w.WriteHeader(sr.Status)
					_, _ = w.Write(sr.Body)
					return
				}
				slog.WarnContext(r.Context(), "idempotency entry unreadable", "key", key)
			}

			cw := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.status >= 300 || cw.body.Len() > maxIdempotentBody {
				return
			}
			data, err := json.Marshal(storedResponse{
				Status:      cw.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := c.Set(r.Context(), ckey, data, ttl); err != nil {
				slog.WarnContext(r.Context(), "idempotency store failed", "key", key, "error", err)
			}
		})
	}
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
