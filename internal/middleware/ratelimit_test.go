package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/threads/ci_flake/runs", http.NoBody)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	clock := time.Unix(1000, 0)
	rl.now = func() time.Time { return clock }
	h := rl.Handler(okHandler())

	for i := range 3 {
		if rec := hit(h, "10.0.0.1:5000"); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := hit(h, "10.0.0.1:5001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	clock = clock.Add(time.Second)
	if rec := hit(h, "10.0.0.1:5002"); rec.Code != http.StatusAccepted {
		t.Errorf("expected refill after 1s, got %d", rec.Code)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := rl.Handler(okHandler())

	hit(h, "10.0.0.1:1")
	if rec := hit(h, "10.0.0.1:2"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("client 1 not limited: %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.2:1"); rec.Code != http.StatusAccepted {
		t.Errorf("client 2 limited: %d", rec.Code)
	}
	if rl.Len() != 2 {
		t.Errorf("tracked clients = %d", rl.Len())
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	clock := time.Unix(1000, 0)
	rl.now = func() time.Time { return clock }
	hit(rl.Handler(okHandler()), "10.0.0.1:1")

	clock = clock.Add(time.Hour)
	rl.cleanup(time.Minute)
	if rl.Len() != 0 {
		t.Errorf("idle client kept")
	}
}
