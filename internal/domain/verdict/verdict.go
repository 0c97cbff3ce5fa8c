// Package verdict scores forked plans with a persona panel and gates the
// winning plan behind a vote-based certainty threshold.
package verdict

import (
	"github.com/overhearops/overhearops/internal/domain/plan"
)

// Uncertainty summarizes panel agreement.
type Uncertainty string

const (
	UncertaintyLow    Uncertainty = "low"
	UncertaintyMedium Uncertainty = "medium"
	UncertaintyHigh   Uncertainty = "high"
)

// Source records which judge produced a verdict.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceProvider  Source = "provider"
)

// PanelSize is the number of reviewing personas.
const PanelSize = 3

// Vote is one persona's score for one plan.
type Vote struct {
	Persona string  `json:"persona"`
	PlanID  string  `json:"plan_id"`
	Score   float64 `json:"score"`
}

// Verdict is the panel outcome.
type Verdict struct {
	WinningPlan plan.Plan   `json:"winning_plan"`
	VoteCount   int         `json:"vote_count"`
	Rationale   string      `json:"rationale"`
	Uncertainty Uncertainty `json:"uncertainty_level"`
	Votes       []Vote      `json:"votes"`
	Source      Source      `json:"source"`
}

// Degenerate reports whether the verdict has no winner.
func (v Verdict) Degenerate() bool { return v.WinningPlan.ID == "" }

// UncertaintyFor maps a winner's vote count to an uncertainty level.
func UncertaintyFor(votes int) Uncertainty {
	switch {
	case votes >= PanelSize:
		return UncertaintyLow
	case votes == 2:
		return UncertaintyMedium
	default:
		return UncertaintyHigh
	}
}
