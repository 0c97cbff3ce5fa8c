// Package plan defines remediation plans and the forker that produces them.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/overhearops/overhearops/internal/domain"
)

// BlastRadius is the expected impact of applying a plan.
type BlastRadius string

const (
	BlastLow     BlastRadius = "Low"
	BlastMedium  BlastRadius = "Medium"
	BlastHigh    BlastRadius = "High"
	BlastUnknown BlastRadius = "Unknown"
)

// ParseBlastRadius normalizes free-form provider text. Anything without a
// recognizable level is Unknown.
func ParseBlastRadius(s string) BlastRadius {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "high"):
		return BlastHigh
	case strings.Contains(l, "medium"):
		return BlastMedium
	case strings.Contains(l, "low"):
		return BlastLow
	default:
		return BlastUnknown
	}
}

// Penalty is the judge score deduction for the radius.
func (b BlastRadius) Penalty() float64 {
	switch ParseBlastRadius(string(b)) {
	case BlastHigh:
		return 0.2
	case BlastMedium:
		return 0.1
	default:
		return 0
	}
}

// Plan is a candidate remediation. Plans are values; copy before mutating.
type Plan struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Hypothesis  string      `json:"hypothesis" yaml:"hypothesis"`
	Steps       []string    `json:"steps" yaml:"steps"`
	BlastRadius BlastRadius `json:"blast_radius" yaml:"blast_radius"`
	Confidence  float64     `json:"confidence" yaml:"confidence"`
}

// Branch wraps one plan for independent execution.
type Branch struct {
	Plan Plan `json:"plan"`
}

var (
	ErrIDRequired         = errors.New("plan id is required")
	ErrConfidenceRange    = errors.New("plan confidence must be within [0, 1]")
	ErrDuplicatePlanID    = errors.New("duplicate plan id")
	ErrEmptyCandidateList = errors.New("no plan candidates")
)

// Validate checks structural correctness. Errors wrap domain.ErrValidation.
func (p Plan) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: %w", domain.ErrValidation, ErrIDRequired)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: plan %s: %w", domain.ErrValidation, p.ID, ErrConfidenceRange)
	}
	return nil
}

// Clone returns a deep copy.
func (p Plan) Clone() Plan {
	p.Steps = append([]string(nil), p.Steps...)
	return p
}

// Branches wraps each plan in a Branch, preserving order.
func Branches(plans []Plan) []Branch {
	out := make([]Branch, len(plans))
	for i, p := range plans {
		out[i] = Branch{Plan: p.Clone()}
	}
	return out
}
