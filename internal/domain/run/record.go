package run

import (
	"time"

	"github.com/overhearops/overhearops/internal/domain/artifact"
	"github.com/overhearops/overhearops/internal/domain/plan"
	"github.com/overhearops/overhearops/internal/domain/trace"
	"github.com/overhearops/overhearops/internal/domain/verdict"
)

// GateSummary is the persisted gate decision.
type GateSummary struct {
	Action    verdict.Action `json:"action"`
	Certainty float64        `json:"certainty"`
}

// Record is the immutable audit entry written once per completed run.
type Record struct {
	RunID      string                       `json:"run_id"`
	ThreadID   string                       `json:"thread_id"`
	Mode       string                       `json:"mode"`
	Provider   string                       `json:"provider"`
	Intents    []string                     `json:"intents"`
	Verdict    verdict.Verdict              `json:"verdict"`
	Gate       GateSummary                  `json:"gate"`
	Artifacts  map[string]artifact.Artifact `json:"artefacts_by_plan"`
	Plans      []plan.Plan                  `json:"plans"`
	ReplayHash string                       `json:"replay_hash"`
	TraceGraph trace.Graph                  `json:"trace_graph"`
	Trace      []trace.Record               `json:"trace"`
	CreatedAt  time.Time                    `json:"created_at"`
}

// Summary is the list view of a record.
type Summary struct {
	RunID      string         `json:"run_id"`
	ThreadID   string         `json:"thread_id"`
	Mode       string         `json:"mode"`
	Action     verdict.Action `json:"action"`
	WinnerID   string         `json:"winner_plan_id"`
	ReplayHash string         `json:"replay_hash"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Summarize projects r to its list view.
func (r *Record) Summarize() Summary {
	return Summary{
		RunID:      r.RunID,
		ThreadID:   r.ThreadID,
		Mode:       r.Mode,
		Action:     r.Gate.Action,
		WinnerID:   r.Verdict.WinningPlan.ID,
		ReplayHash: r.ReplayHash,
		CreatedAt:  r.CreatedAt,
	}
}

// NewRecord assembles the audit record from a finished state.
func NewRecord(rc Context, st State, createdAt time.Time) (*Record, error) {
	records := rc.Trace.Records()
	hash, err := trace.Fingerprint(records, rc.RunID)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		RunID:      rc.RunID,
		ThreadID:   st.ThreadID,
		Mode:       rc.Mode,
		Provider:   rc.Provider,
		Intents:    append([]string{}, st.Intents()...),
		Artifacts:  map[string]artifact.Artifact{},
		Plans:      append([]plan.Plan{}, st.Plans()...),
		ReplayHash: hash,
		TraceGraph: trace.BuildGraph(records),
		Trace:      records,
		CreatedAt:  createdAt.UTC(),
	}
	for k, v := range st.Artifacts {
		rec.Artifacts[k] = v
	}
	if st.Gated != nil {
		rec.Verdict = st.Gated.Verdict
		rec.Gate = GateSummary{Action: st.Gated.Action, Certainty: st.Gated.Certainty}
	} else {
		if st.Verdict != nil {
			rec.Verdict = *st.Verdict
		}
		rec.Gate = GateSummary{Action: verdict.ActionAbstain}
	}
	return rec, nil
}
