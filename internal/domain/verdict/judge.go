package verdict

import (
	"fmt"

	"github.com/overhearops/overhearops/internal/domain/persona"
	"github.com/overhearops/overhearops/internal/domain/plan"
)

// BaseScore is confidence minus the blast penalty plus a small bonus per step.
func BaseScore(p plan.Plan) float64 {
	return p.Confidence - p.BlastRadius.Penalty() + 0.02*float64(len(p.Steps))
}

// PersonaScore adjusts the base score for a reviewer's bias.
func PersonaScore(role persona.Role, p plan.Plan) float64 {
	s := BaseScore(p)
	switch role {
	case persona.Critic:
		if plan.ParseBlastRadius(string(p.BlastRadius)) == plan.BlastMedium {
			s -= 0.05
		}
	case persona.RiskGuard:
		if plan.ParseBlastRadius(string(p.BlastRadius)) == plan.BlastLow {
			s += 0.1
		}
	}
	return s
}

// Judge runs the heuristic panel over branches. Each reviewer votes for its
// highest-scoring plan, keeping the first seen on ties; the plan with the
// most votes wins, again keeping the first seen in branch order on ties.
func Judge(branches []plan.Branch) Verdict {
	if len(branches) == 0 {
		return Verdict{
			Rationale:   "No branches to evaluate",
			Uncertainty: UncertaintyHigh,
			Votes:       []Vote{},
			Source:      SourceHeuristic,
		}
	}

	votes := make([]Vote, 0, len(persona.Reviewers)*len(branches))
	tally := make(map[string]int, len(branches))
	for _, role := range persona.Reviewers {
		best := -1
		var bestScore float64
		for i, b := range branches {
			s := PersonaScore(role, b.Plan)
			votes = append(votes, Vote{Persona: string(role), PlanID: b.Plan.ID, Score: s})
			if best < 0 || s > bestScore {
				best, bestScore = i, s
			}
		}
		tally[branches[best].Plan.ID]++
	}

	winner := branches[0].Plan
	count := tally[winner.ID]
	for _, b := range branches[1:] {
		if c := tally[b.Plan.ID]; c > count {
			winner, count = b.Plan, c
		}
	}

	return Verdict{
		WinningPlan: winner.Clone(),
		VoteCount:   count,
		Rationale:   fmt.Sprintf("Majority vote (%d/%d) favours %s", count, PanelSize, winner.ID),
		Uncertainty: UncertaintyFor(count),
		Votes:       votes,
		Source:      SourceHeuristic,
	}
}

// ProviderOutput is the judge payload returned by an offline provider.
type ProviderOutput struct {
	WinnerPlanID string `json:"winner_plan_id"`
	Votes        []Vote `json:"votes"`
	Rationale    string `json:"rationale"`
}

// FromProvider converts provider output into a verdict. It returns false when
// the named winner is not among the branch plans.
func FromProvider(out ProviderOutput, branches []plan.Branch) (Verdict, bool) {
	var winner *plan.Plan
	for i := range branches {
		if branches[i].Plan.ID == out.WinnerPlanID {
			winner = &branches[i].Plan
			break
		}
	}
	if winner == nil {
		return Verdict{}, false
	}

	count := 0
	for _, v := range out.Votes {
		if v.PlanID == out.WinnerPlanID {
			count++
		}
	}
	count = min(count, PanelSize)

	rationale := out.Rationale
	if rationale == "" {
		rationale = fmt.Sprintf("Provider selected %s (%d/%d)", winner.ID, count, PanelSize)
	}
	votes := append([]Vote{}, out.Votes...)
	return Verdict{
		WinningPlan: winner.Clone(),
		VoteCount:   count,
		Rationale:   rationale,
		Uncertainty: UncertaintyFor(count),
		Votes:       votes,
		Source:      SourceProvider,
	}, true
}
