package plan

import "fmt"

// MinBranches is the number of candidates the forker pads up to.
const MinBranches = 3

// DefaultWidth is the default branch cap.
const DefaultWidth = 3

// ClampWidth bounds a configured branch cap to at least one.
func ClampWidth(width int) int {
	if width < 1 {
		return 1
	}
	return width
}

// Fallback builds the generic investigation plan used for padding.
func Fallback(n int) Plan {
	return Plan{
		ID:         fmt.Sprintf("plan-fallback-%d", n),
		Title:      "Investigate incident",
		Hypothesis: "Fallback plan generated to maintain branch diversity",
		Steps: []string{
			"Collect additional telemetry",
			"Confirm reproduction steps",
			"Escalate to on-call owner",
		},
		BlastRadius: BlastUnknown,
		Confidence:  0.4,
	}
}

// Fork turns candidates into the run's plan set. Candidates keep their order
// with later duplicates dropped; the set is padded with fallback plans to
// MinBranches and then truncated to width. The result length is
// min(ClampWidth(width), max(MinBranches, distinct candidates)).
func Fork(candidates []Plan, width int) []Plan {
	width = ClampWidth(width)

	out := make([]Plan, 0, max(MinBranches, len(candidates)))
	seen := make(map[string]bool, len(candidates)+MinBranches)
	for _, p := range candidates {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p.Clone())
	}

	for n := 1; len(out) < MinBranches; n++ {
		fb := Fallback(n)
		if seen[fb.ID] {
			continue
		}
		seen[fb.ID] = true
		out = append(out, fb)
	}

	if len(out) > width {
		out = out[:width]
	}
	return out
}
