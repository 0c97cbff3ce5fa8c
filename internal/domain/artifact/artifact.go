// Package artifact turns a plan into the deliverable a branch produces.
package artifact

import (
	"fmt"
	"strings"

	"github.com/overhearops/overhearops/internal/domain/plan"
)

// Kind classifies a branch output.
type Kind string

const (
	KindPatch       Kind = "patch"
	KindIssue       Kind = "issue"
	KindPlaceholder Kind = "placeholder"
)

// Issue is a tracker write-up for plans that cannot be expressed as a diff.
type Issue struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

// Artifact is the output of executing one branch, keyed by plan id.
type Artifact struct {
	PlanID string    `json:"plan_id"`
	Kind   Kind      `json:"kind"`
	Plan   plan.Plan `json:"plan"`
	PRDiff string    `json:"pr_diff,omitempty"`
	Issue  *Issue    `json:"issue,omitempty"`
	Failed bool      `json:"failed,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Execute produces a runbook diff when the plan has steps and a known blast
// radius, otherwise an issue write-up.
func Execute(p plan.Plan) (Artifact, error) {
	if err := p.Validate(); err != nil {
		return Artifact{}, fmt.Errorf("execute plan: %w", err)
	}
	a := Artifact{PlanID: p.ID, Plan: p.Clone()}
	if len(p.Steps) > 0 && plan.ParseBlastRadius(string(p.BlastRadius)) != plan.BlastUnknown {
		a.Kind = KindPatch
		a.PRDiff = RunbookDiff(p)
		return a, nil
	}
	a.Kind = KindIssue
	a.Issue = IssueFor(p)
	return a, nil
}

// Placeholder records a failed branch so siblings and the judge can proceed.
func Placeholder(p plan.Plan, err error) Artifact {
	msg := "unknown failure"
	if err != nil {
		msg = err.Error()
	}
	return Artifact{
		PlanID: p.ID,
		Kind:   KindPlaceholder,
		Plan:   p.Clone(),
		Failed: true,
		Error:  msg,
	}
}

// RunbookDiff renders the plan as a new runbook file in unified diff form.
func RunbookDiff(p plan.Plan) string {
	lines := []string{"# " + p.Title, "", "Hypothesis: " + p.Hypothesis, ""}
	lines = append(lines, fmt.Sprintf("Blast radius: %s", p.BlastRadius), "")
	for i, s := range p.Steps {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, s))
	}

	path := "runbooks/" + p.ID + ".md"
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	b.WriteString("new file mode 100644\n")
	b.WriteString("--- /dev/null\n")
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, l := range lines {
		b.WriteString("+" + l + "\n")
	}
	return b.String()
}

// IssueFor renders the plan as an issue.
func IssueFor(p plan.Plan) *Issue {
	var b strings.Builder
	fmt.Fprintf(&b, "Hypothesis: %s\n", p.Hypothesis)
	if len(p.Steps) > 0 {
		b.WriteString("\nProposed steps:\n")
		for _, s := range p.Steps {
			fmt.Fprintf(&b, "- [ ] %s\n", s)
		}
	}
	radius := plan.ParseBlastRadius(string(p.BlastRadius))
	return &Issue{
		Title:  fmt.Sprintf("[%s] %s", radius, p.Title),
		Body:   b.String(),
		Labels: []string{"remediation", "blast:" + strings.ToLower(string(radius))},
	}
}
