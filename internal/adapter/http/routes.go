package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	otelx "github.com/overhearops/overhearops/internal/adapter/otel"
	"github.com/overhearops/overhearops/internal/middleware"
	"github.com/overhearops/overhearops/internal/port/cache"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	CORSOrigin  string
	ServiceName string // enables otelhttp spans when set
	// RunLimiter throttles endpoints that start or resume runs.
	RunLimiter *middleware.RateLimiter
	// Idempotency, when set, replays responses for repeated Idempotency-Key
	// headers on run-starting endpoints.
	Idempotency    cache.Cache
	IdempotencyTTL time.Duration
}

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(SecurityHeaders)
	r.Use(CORS(opts.CORSOrigin))
	MountRoutes(r, h, opts)

	if opts.ServiceName != "" {
		return otelx.HTTPMiddleware(opts.ServiceName)(r)
	}
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouterOptions) {
	runGuard := func(next http.Handler) http.Handler {
		if opts.Idempotency != nil {
			ttl := opts.IdempotencyTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			next = middleware.Idempotency(opts.Idempotency, ttl)(next)
		}
		if opts.RunLimiter != nil {
			next = opts.RunLimiter.Handler(next)
		}
		return next
	}

	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Threads
		r.Get("/threads", h.ListThreads)
		r.Get("/threads/{id}", h.GetThread)
		r.Post("/threads/{id}/events", h.PostThreadEvent)
		r.Get("/threads/{id}/schedule", h.GetSchedule)
		r.Post("/threads/{id}/replay", h.StartReplay)
		r.Get("/threads/{id}/stream", h.StreamThread)
		r.With(runGuard).Post("/threads/{id}/runs", h.StartRun)

		// Runs
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/graph", h.GetRunGraph)
		r.Get("/runs/{id}/checkpoints", h.ListCheckpoints)
		r.With(runGuard).Post("/runs/{id}/resume", h.ResumeRun)
	})
}
