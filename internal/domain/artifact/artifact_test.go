package artifact

import (
	"errors"
	"strings"
	"testing"

	"github.com/overhearops/overhearops/internal/domain/plan"
)

func TestExecuteProducesDiff(t *testing.T) {
	p := plan.DefaultLibrary().Templates("ci_flake")[0]
	a, err := Execute(p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if a.Kind != KindPatch || a.PlanID != "plan-quarantine" {
		t.Fatalf("artifact = %+v", a)
	}
	if !strings.HasPrefix(a.PRDiff, "diff --git") {
		t.Errorf("diff prefix = %q", a.PRDiff[:min(20, len(a.PRDiff))])
	}
	if !strings.Contains(a.PRDiff, "+1. Mark integration/test_artifacts as xfail for release branch") {
		t.Errorf("diff missing first step:\n%s", a.PRDiff)
	}
	if !strings.Contains(a.PRDiff, "@@ -0,0 +1,9 @@") {
		t.Errorf("unexpected hunk header:\n%s", a.PRDiff)
	}
}

func TestExecuteUnknownRadiusProducesIssue(t *testing.T) {
	a, err := Execute(plan.Fallback(1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if a.Kind != KindIssue || a.Issue == nil {
		t.Fatalf("artifact = %+v", a)
	}
	if a.Issue.Title != "[Unknown] Investigate incident" {
		t.Errorf("title = %q", a.Issue.Title)
	}
	if a.PRDiff != "" {
		t.Error("issue artifact should carry no diff")
	}
}

func TestExecuteNoStepsProducesIssue(t *testing.T) {
	a, err := Execute(plan.Plan{ID: "p", Title: "t", BlastRadius: plan.BlastLow, Confidence: 0.3})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if a.Kind != KindIssue {
		t.Errorf("kind = %s", a.Kind)
	}
}

func TestExecuteRejectsInvalidPlan(t *testing.T) {
	if _, err := Execute(plan.Plan{Confidence: 2}); !errors.Is(err, plan.ErrIDRequired) {
		t.Errorf("expected ErrIDRequired, got %v", err)
	}
}

func TestPlaceholder(t *testing.T) {
	a := Placeholder(plan.Plan{ID: "p"}, errors.New("boom"))
	if !a.Failed || a.Kind != KindPlaceholder || a.Error != "boom" || a.PlanID != "p" {
		t.Errorf("placeholder = %+v", a)
	}
}
