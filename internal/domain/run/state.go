package run

import (
	"fmt"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/artifact"
	"github.com/overhearops/overhearops/internal/domain/defence"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/persona"
	"github.com/overhearops/overhearops/internal/domain/plan"
	"github.com/overhearops/overhearops/internal/domain/verdict"
)

// Detection is the outcome of the detect stage. Intents holds the labels
// accepted at Threshold; Raw keeps the classifier ranking regardless.
type Detection struct {
	Raw        []string          `json:"raw_intents"`
	Confidence float64           `json:"confidence"`
	Threshold  float64           `json:"threshold"`
	Intents    []string          `json:"intents"`
	Risk       *defence.Decision `json:"risk,omitempty"`
}

// Team is the composed incident team.
type Team struct {
	Members []persona.Profile `json:"members"`
}

// Fork is the plan set chosen for the run.
type Fork struct {
	Category string        `json:"category"`
	Plans    []plan.Plan   `json:"plans"`
	Branches []plan.Branch `json:"branches"`
}

// Outcome summarizes the finalized run.
type Outcome struct {
	Action       verdict.Action `json:"action"`
	PlanID       string         `json:"plan_id,omitempty"`
	ArtifactKind artifact.Kind  `json:"artifact_kind,omitempty"`
	Shipped      bool           `json:"shipped"`
}

// State is threaded through every stage. A nil field has not been produced
// yet. Fields are only ever added: see Apply.
type State struct {
	ThreadID  string                       `json:"thread_id"`
	Message   message.Message              `json:"msg"`
	Detection *Detection                   `json:"detection,omitempty"`
	Team      *Team                        `json:"team,omitempty"`
	Fork      *Fork                        `json:"fork,omitempty"`
	Artifacts map[string]artifact.Artifact `json:"artifacts,omitempty"`
	Verdict   *verdict.Verdict             `json:"verdict,omitempty"`
	Gated     *verdict.Gated               `json:"gated,omitempty"`
	Outcome   *Outcome                     `json:"outcome,omitempty"`
}

// Delta carries the fields a stage produced.
type Delta struct {
	Detection *Detection
	Team      *Team
	Fork      *Fork
	Artifacts map[string]artifact.Artifact
	Verdict   *verdict.Verdict
	Gated     *verdict.Gated
	Outcome   *Outcome
}

// NewState seeds a run with its triggering message.
func NewState(threadID string, msg message.Message) State {
	return State{ThreadID: threadID, Message: msg}
}

// Apply returns a copy of s with d's fields added. Setting a field that is
// already present fails with domain.ErrConflict and leaves s untouched.
func (s State) Apply(d Delta) (State, error) {
	next := s
	if err := setOnce(&next.Detection, d.Detection, "detection"); err != nil {
		return s, err
	}
	if err := setOnce(&next.Team, d.Team, "team"); err != nil {
		return s, err
	}
	if err := setOnce(&next.Fork, d.Fork, "fork"); err != nil {
		return s, err
	}
	if d.Artifacts != nil {
		if s.Artifacts != nil {
			return s, fmt.Errorf("state field artifacts: %w", domain.ErrConflict)
		}
		next.Artifacts = make(map[string]artifact.Artifact, len(d.Artifacts))
		for k, v := range d.Artifacts {
			next.Artifacts[k] = v
		}
	}
	if err := setOnce(&next.Verdict, d.Verdict, "verdict"); err != nil {
		return s, err
	}
	if err := setOnce(&next.Gated, d.Gated, "gated"); err != nil {
		return s, err
	}
	if err := setOnce(&next.Outcome, d.Outcome, "outcome"); err != nil {
		return s, err
	}
	return next, nil
}

func setOnce[T any](dst **T, v *T, field string) error {
	if v == nil {
		return nil
	}
	if *dst != nil {
		return fmt.Errorf("state field %s: %w", field, domain.ErrConflict)
	}
	cp := *v
	*dst = &cp
	return nil
}

// Intents returns the accepted intents, or nil before detection.
func (s State) Intents() []string {
	if s.Detection == nil {
		return nil
	}
	return s.Detection.Intents
}

// Plans returns the forked plans, or nil before forking.
func (s State) Plans() []plan.Plan {
	if s.Fork == nil {
		return nil
	}
	return s.Fork.Plans
}

// Branches returns the forked branches, or nil before forking.
func (s State) Branches() []plan.Branch {
	if s.Fork == nil {
		return nil
	}
	return s.Fork.Branches
}
