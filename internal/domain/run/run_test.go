package run

import (
	"errors"
	"testing"
	"time"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/artifact"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/plan"
	"github.com/overhearops/overhearops/internal/domain/trace"
	"github.com/overhearops/overhearops/internal/domain/verdict"
)

func TestStageOrder(t *testing.T) {
	if StageDetect.Index() != 0 || StageFinalize.Index() != len(Stages)-1 {
		t.Error("unexpected stage positions")
	}
	if Stage("ship").Valid() {
		t.Error("unknown stage reported valid")
	}
}

func TestApplyIsAdditive(t *testing.T) {
	s := NewState("ci_flake", message.Message{ID: "m1"})
	if s.Intents() != nil || s.Plans() != nil || s.Branches() != nil {
		t.Fatal("fresh state should have no derived fields")
	}

	s1, err := s.Apply(Delta{Detection: &Detection{Intents: []string{"ci_flake"}}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Detection != nil {
		t.Fatal("Apply mutated the receiver")
	}

	plans := plan.Fork(nil, 3)
	s2, err := s1.Apply(Delta{Fork: &Fork{Category: "ci_flake", Plans: plans, Branches: plan.Branches(plans)}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(s2.Intents()) != 1 || len(s2.Plans()) != 3 {
		t.Errorf("state lost fields: intents=%v plans=%d", s2.Intents(), len(s2.Plans()))
	}
}

func TestApplyRejectsOverwrite(t *testing.T) {
	s, _ := NewState("t", message.Message{}).Apply(Delta{Verdict: &verdict.Verdict{VoteCount: 2}})
	_, err := s.Apply(Delta{Verdict: &verdict.Verdict{VoteCount: 3}})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if s.Verdict.VoteCount != 2 {
		t.Error("verdict overwritten")
	}

	s, _ = s.Apply(Delta{Artifacts: map[string]artifact.Artifact{"p": {PlanID: "p"}}})
	if _, err := s.Apply(Delta{Artifacts: map[string]artifact.Artifact{}}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected artifacts conflict, got %v", err)
	}
}

func TestApplyCopiesArtifacts(t *testing.T) {
	in := map[string]artifact.Artifact{"p": {PlanID: "p"}}
	s, err := NewState("t", message.Message{}).Apply(Delta{Artifacts: in})
	if err != nil {
		t.Fatal(err)
	}
	in["q"] = artifact.Artifact{PlanID: "q"}
	if len(s.Artifacts) != 1 {
		t.Error("state aliases delta artifact map")
	}
}

func TestNewRecord(t *testing.T) {
	rc := NewContext("heuristic-ci_flake-1", "ci_flake", "heuristic", "heuristic")
	rc.Trace.Add(trace.Record{Name: "detect", Attributes: map[string]any{trace.AttrRole: "detect"}})

	v := verdict.Verdict{WinningPlan: plan.Plan{ID: "p"}, VoteCount: 3}
	g := verdict.Gate(v)
	st := State{
		ThreadID:  "ci_flake",
		Detection: &Detection{Intents: []string{"ci_flake"}},
		Fork:      &Fork{Plans: []plan.Plan{{ID: "p"}}},
		Artifacts: map[string]artifact.Artifact{"p": {PlanID: "p", Kind: artifact.KindPatch}},
		Verdict:   &v,
		Gated:     &g,
	}

	rec, err := NewRecord(rc, st, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if rec.Gate.Action != verdict.ActionApprove || rec.Gate.Certainty != 1 {
		t.Errorf("gate = %+v", rec.Gate)
	}
	if rec.ReplayHash == "" || len(rec.TraceGraph.Nodes) != 1 {
		t.Errorf("hash=%q graph=%+v", rec.ReplayHash, rec.TraceGraph)
	}
	sum := rec.Summarize()
	if sum.WinnerID != "p" || sum.Action != verdict.ActionApprove {
		t.Errorf("summary = %+v", sum)
	}
}

func TestNewRecordWithoutGateAbstains(t *testing.T) {
	rc := NewContext("r", "t", "heuristic", "heuristic")
	rec, err := NewRecord(rc, NewState("t", message.Message{}), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Gate.Action != verdict.ActionAbstain {
		t.Errorf("action = %s", rec.Gate.Action)
	}
	want, _ := trace.Fingerprint(nil, "r")
	if rec.ReplayHash != want {
		t.Error("empty trace should hash the run id")
	}
}
