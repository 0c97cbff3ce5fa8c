// Package databasetest holds a compliance suite for database.Store implementations.
package databasetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/artifact"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/plan"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/trace"
	"github.com/overhearops/overhearops/internal/domain/verdict"
	"github.com/overhearops/overhearops/internal/port/database"
)

// Record builds a finished run record for threadID.
func Record(t *testing.T, threadID string) *run.Record {
	t.Helper()
	rc := run.NewContext("heuristic-"+threadID+"-"+uuid.NewString(), threadID, "heuristic", "heuristic")
	rc.Trace.Add(trace.Record{Name: "detect", Attributes: map[string]any{
		trace.AttrRole:     "detect",
		trace.AttrThreadID: threadID,
	}})

	p := plan.Plan{ID: "plan-quarantine", Title: "Quarantine", Steps: []string{"tag"}, BlastRadius: plan.BlastLow, Confidence: 0.62}
	v := verdict.Verdict{WinningPlan: p, VoteCount: 3, Uncertainty: verdict.UncertaintyLow}
	g := verdict.Gate(v)
	st := run.NewState(threadID, message.Message{ID: "m1"})
	st.Fork = &run.Fork{Category: "ci_flake", Plans: []plan.Plan{p}}
	st.Artifacts = map[string]artifact.Artifact{p.ID: {PlanID: p.ID, Kind: artifact.KindPatch, PRDiff: artifact.RunbookDiff(p)}}
	st.Verdict = &v
	st.Gated = &g

	rec, err := run.NewRecord(rc, st, time.Now().Truncate(time.Millisecond))
	if err != nil {
		t.Fatalf("build record: %v", err)
	}
	return rec
}

// RunComplianceTests runs the standard suite against any Store implementation.
func RunComplianceTests(t *testing.T, s database.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		rec := Record(t, "ci_flake")
		if err := s.CreateRunRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRunRecord: %v", err)
		}
		got, err := s.GetRunRecord(ctx, rec.RunID)
		if err != nil {
			t.Fatalf("GetRunRecord: %v", err)
		}
		if got.ReplayHash != rec.ReplayHash {
			t.Errorf("hash: expected %s, got %s", rec.ReplayHash, got.ReplayHash)
		}
		if got.Verdict.WinningPlan.ID != "plan-quarantine" || got.Gate.Action != verdict.ActionApprove {
			t.Errorf("unexpected verdict %+v gate %+v", got.Verdict, got.Gate)
		}
		if got.Artifacts["plan-quarantine"].Kind != artifact.KindPatch {
			t.Errorf("artifact not round-tripped: %+v", got.Artifacts)
		}
		if len(got.TraceGraph.Nodes) != 1 {
			t.Errorf("expected 1 graph node, got %d", len(got.TraceGraph.Nodes))
		}
	})

	t.Run("WriteOnce", func(t *testing.T) {
		rec := Record(t, "ci_flake")
		if err := s.CreateRunRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
		dup := *rec
		dup.ReplayHash = "tampered"
		err := s.CreateRunRecord(ctx, &dup)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		got, err := s.GetRunRecord(ctx, rec.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if got.ReplayHash != rec.ReplayHash {
			t.Error("existing record was modified")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.GetRunRecord(ctx, "missing-"+uuid.NewString())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListByThread", func(t *testing.T) {
		thread := "list-" + uuid.NewString()[:8]
		for range 2 {
			if err := s.CreateRunRecord(ctx, Record(t, thread)); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.ListRunRecords(ctx, thread, 10)
		if err != nil {
			t.Fatalf("ListRunRecords: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 summaries, got %d", len(got))
		}
		for _, sum := range got {
			if sum.ThreadID != thread || sum.WinnerID != "plan-quarantine" {
				t.Errorf("unexpected summary %+v", sum)
			}
		}
		limited, err := s.ListRunRecords(ctx, thread, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(limited) != 1 {
			t.Errorf("expected limit 1, got %d", len(limited))
		}
	})

	t.Run("Checkpoints", func(t *testing.T) {
		runID := "cp-" + uuid.NewString()
		st := run.NewState("ci_flake", message.Message{ID: "m1"})
		st.Detection = &run.Detection{Intents: []string{"ci_flake"}, Confidence: 0.7}

		for i, stage := range []run.Stage{run.StageDetect, run.StageComposeTeam} {
			recs := []trace.Record{{Name: string(stage), Attributes: map[string]any{trace.AttrRole: string(stage)}}}
			cp := database.Checkpoint{RunID: runID, Seq: i, Stage: stage, State: st, Trace: recs, Mode: "heuristic", Provider: "heuristic"}
			if err := s.SaveCheckpoint(ctx, cp); err != nil {
				t.Fatalf("SaveCheckpoint: %v", err)
			}
		}

		cp, err := s.LoadCheckpoint(ctx, runID, run.StageDetect)
		if err != nil {
			t.Fatalf("LoadCheckpoint: %v", err)
		}
		if cp.State.Detection == nil || cp.State.Detection.Intents[0] != "ci_flake" {
			t.Errorf("state not round-tripped: %+v", cp.State)
		}
		if len(cp.Trace) != 1 || cp.Trace[0].Name != string(run.StageDetect) {
			t.Errorf("trace not round-tripped: %+v", cp.Trace)
		}

		all, err := s.ListCheckpoints(ctx, runID)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 || all[0].Stage != run.StageDetect || all[1].Stage != run.StageComposeTeam {
			t.Errorf("unexpected checkpoints %+v", all)
		}

		_, err = s.LoadCheckpoint(ctx, runID, run.StageJudge)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
