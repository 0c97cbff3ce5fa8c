package plan_test

import (
	"errors"
	"testing"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/plan"
)

func TestParseBlastRadius(t *testing.T) {
	tests := []struct {
		in   string
		want plan.BlastRadius
	}{
		{"Low", plan.BlastLow},
		{"medium", plan.BlastMedium},
		{"HIGH (prod)", plan.BlastHigh},
		{"", plan.BlastUnknown},
		{"unclear", plan.BlastUnknown},
	}
	for _, tt := range tests {
		if got := plan.ParseBlastRadius(tt.in); got != tt.want {
			t.Errorf("ParseBlastRadius(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPenalty(t *testing.T) {
	if plan.BlastHigh.Penalty() != 0.2 || plan.BlastMedium.Penalty() != 0.1 || plan.BlastLow.Penalty() != 0 || plan.BlastUnknown.Penalty() != 0 {
		t.Error("unexpected penalties")
	}
}

func TestValidate(t *testing.T) {
	if err := (plan.Plan{ID: "p", Confidence: 0.5}).Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	err := (plan.Plan{Confidence: 0.5}).Validate()
	if !errors.Is(err, plan.ErrIDRequired) || !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrIDRequired wrapped in ErrValidation, got %v", err)
	}
	if err := (plan.Plan{ID: "p", Confidence: 1.2}).Validate(); !errors.Is(err, plan.ErrConfidenceRange) {
		t.Errorf("expected ErrConfidenceRange, got %v", err)
	}
}

func TestBranchesCopySteps(t *testing.T) {
	plans := []plan.Plan{{ID: "a", Steps: []string{"one"}}}
	branches := plan.Branches(plans)
	branches[0].Plan.Steps[0] = "changed"
	if plans[0].Steps[0] != "one" {
		t.Fatal("branch shares step slice with plan")
	}
}
