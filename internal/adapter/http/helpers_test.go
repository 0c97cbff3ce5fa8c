package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/overhearops/overhearops/internal/domain"
)

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("run x: %w", domain.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("create: %w", domain.ErrConflict), http.StatusConflict},
		{"validation", fmt.Errorf("%w: thread id is required", domain.ErrValidation), http.StatusBadRequest},
		{"malformed", fmt.Errorf("decode: %w", domain.ErrMalformed), http.StatusUnprocessableEntity},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err, "missing")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"ci_flake", "heuristic-ci_flake-0f8e", "security-alert"}
	invalid := []string{"", "a/b", `a\b`, "a.b", "a b", "a*", "a>"}
	for _, id := range valid {
		if err := validateID(id); err != nil {
			t.Errorf("validateID(%q) = %v", id, err)
		}
	}
	for _, id := range invalid {
		if err := validateID(id); err == nil {
			t.Errorf("validateID(%q) accepted", id)
		}
	}
}
