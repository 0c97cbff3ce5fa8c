package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/overhearops/overhearops/internal/logger"
)

func TestRequestIDGenerated(t *testing.T) {
	var ctxID string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	respID := rec.Header().Get(HeaderRequestID)
	if len(respID) != 36 {
		t.Errorf("expected uuid request id, got %q", respID)
	}
	if ctxID != respID {
		t.Errorf("context id %q != header id %q", ctxID, respID)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	var ctxID string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(HeaderRequestID, "replay-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if ctxID != "replay-42" || rec.Header().Get(HeaderRequestID) != "replay-42" {
		t.Errorf("ctx=%q header=%q", ctxID, rec.Header().Get(HeaderRequestID))
	}
}

func TestRequestIDRejectsOversized(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 200))
	rec := httptest.NewRecorder()
	RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); len(got) != 36 {
		t.Errorf("oversized id kept: %d chars", len(got))
	}
}
