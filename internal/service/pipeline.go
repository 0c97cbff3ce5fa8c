package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/overhearops/overhearops/internal/adapter/ws"
	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/artifact"
	"github.com/overhearops/overhearops/internal/domain/defence"
	"github.com/overhearops/overhearops/internal/domain/intent"
	"github.com/overhearops/overhearops/internal/domain/persona"
	"github.com/overhearops/overhearops/internal/domain/plan"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/trace"
	"github.com/overhearops/overhearops/internal/domain/verdict"
	"github.com/overhearops/overhearops/internal/port/broadcast"
	"github.com/overhearops/overhearops/internal/port/database"
)

// PipelineConfig holds the run pipeline tunables.
type PipelineConfig struct {
	IntentThreshold float64
	MaxParallel     int // concurrent branches; 0 = unbounded
}

// Executor turns one plan into its artifact.
type Executor func(ctx context.Context, p plan.Plan) (artifact.Artifact, error)

// StageError reports the stage a run failed in.
type StageError struct {
	Stage run.Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Pipeline runs the fixed stage sequence for one message.
type Pipeline struct {
	cfg         PipelineConfig
	classifier  intent.Classifier
	planner     *Planner
	judge       *Judge
	execute     Executor
	checkpoints database.CheckpointStore
	events      broadcast.Broadcaster
	intercept   Interceptor
	now         func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithClassifier replaces the keyword intent classifier.
func WithClassifier(c intent.Classifier) PipelineOption {
	return func(p *Pipeline) { p.classifier = c }
}

// WithExecutor replaces the branch executor.
func WithExecutor(e Executor) PipelineOption {
	return func(p *Pipeline) { p.execute = e }
}

// WithCheckpoints snapshots state after every stage.
func WithCheckpoints(s database.CheckpointStore) PipelineOption {
	return func(p *Pipeline) { p.checkpoints = s }
}

// WithBroadcaster emits a stage event after every stage and branch.
func WithBroadcaster(b broadcast.Broadcaster) PipelineOption {
	return func(p *Pipeline) { p.events = b }
}

// WithInterceptors appends interceptors after the tracing interceptor.
func WithInterceptors(ics ...Interceptor) PipelineOption {
	return func(p *Pipeline) { p.intercept = Chain(append([]Interceptor{p.intercept}, ics...)...) }
}

// NewPipeline creates a Pipeline. Stage calls are always traced.
func NewPipeline(cfg PipelineConfig, planner *Planner, judge *Judge, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		classifier: intent.NewKeywordClassifier(),
		planner:    planner,
		judge:      judge,
		execute: func(_ context.Context, pl plan.Plan) (artifact.Artifact, error) {
			return artifact.Execute(pl)
		},
		intercept: TraceInterceptor(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type stageFunc func(ctx context.Context, rc run.Context, st run.State) (run.Delta, error)

func (p *Pipeline) stage(s run.Stage) stageFunc {
	switch s {
	case run.StageDetect:
		return p.detect
	case run.StageComposeTeam:
		return p.composeTeam
	case run.StageForkPlans:
		return p.forkPlans
	case run.StageExecute:
		return p.executeBranches
	case run.StageJudge:
		return p.judgeBranches
	case run.StageGate:
		return p.gate
	default:
		return p.finalize
	}
}

// Run executes every stage from the start.
func (p *Pipeline) Run(ctx context.Context, rc run.Context, st run.State) (run.State, error) {
	return p.runFrom(ctx, rc, st, 0)
}

// Resume loads the checkpoint taken after stage `after` and runs the stages
// that follow it. The returned context carries the restored trace.
func (p *Pipeline) Resume(ctx context.Context, runID string, after run.Stage) (run.Context, run.State, error) {
	if p.checkpoints == nil {
		return run.Context{}, run.State{}, fmt.Errorf("resume %s: no checkpoint store: %w", runID, domain.ErrValidation)
	}
	if !after.Valid() {
		return run.Context{}, run.State{}, fmt.Errorf("resume %s: unknown stage %q: %w", runID, after, domain.ErrValidation)
	}
	cp, err := p.checkpoints.LoadCheckpoint(ctx, runID, after)
	if err != nil {
		return run.Context{}, run.State{}, fmt.Errorf("resume %s: %w", runID, err)
	}

	rc := run.NewContext(runID, cp.State.ThreadID, cp.Mode, cp.Provider)
	rc.Trace = trace.NewRecorder(cp.Trace...)
	slog.InfoContext(ctx, "resuming run", "run_id", runID, "after", after)

	st, err := p.runFrom(ctx, rc, cp.State, after.Index()+1)
	return rc, st, err
}

func (p *Pipeline) runFrom(ctx context.Context, rc run.Context, st run.State, from int) (run.State, error) {
	for i := from; i < len(run.Stages); i++ {
		if err := ctx.Err(); err != nil {
			return st, &StageError{Stage: run.Stages[i], Err: err}
		}
		stage := run.Stages[i]

		var delta run.Delta
		var err error
		if stage == run.StageExecute {
			// Branch calls are intercepted individually.
			delta, err = p.executeBranches(ctx, rc, st)
		} else {
			delta, err = p.invoke(ctx, rc, stage, st)
		}
		if err != nil {
			return st, &StageError{Stage: stage, Err: err}
		}

		next, err := st.Apply(delta)
		if err != nil {
			return st, &StageError{Stage: stage, Err: err}
		}
		st = next

		if err := p.checkpoint(ctx, rc, i, stage, st); err != nil {
			return st, &StageError{Stage: stage, Err: err}
		}
		p.emit(ctx, rc, stage, "", trace.StatusOK)
	}
	return st, nil
}

func (p *Pipeline) invoke(ctx context.Context, rc run.Context, stage run.Stage, st run.State) (run.Delta, error) {
	fn := p.stage(stage)
	inv := Invocation{Run: rc, Stage: stage, Input: st}
	out, err := p.intercept(ctx, inv, func(ctx context.Context) (any, error) {
		d, err := fn(ctx, rc, st)
		if err != nil {
			return nil, err
		}
		return deltaOutput(d), nil
	})
	if err != nil {
		return run.Delta{}, err
	}
	return out.(delta).Delta, nil
}

// delta wraps a stage result so the trace proxy sizes only produced fields.
type delta struct{ run.Delta }

func deltaOutput(d run.Delta) delta { return delta{d} }

func (p *Pipeline) checkpoint(ctx context.Context, rc run.Context, seq int, stage run.Stage, st run.State) error {
	if p.checkpoints == nil {
		return nil
	}
	cp := database.Checkpoint{
		RunID:     rc.RunID,
		Seq:       seq,
		Stage:     stage,
		State:     st,
		Trace:     rc.Trace.Records(),
		Mode:      rc.Mode,
		Provider:  rc.Provider,
		CreatedAt: p.now().UTC(),
	}
	if err := p.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (p *Pipeline) emit(ctx context.Context, rc run.Context, stage run.Stage, branchID, status string) {
	if p.events == nil {
		return
	}
	p.events.BroadcastEvent(ctx, ws.EventStageCompleted, ws.StageEvent{
		RunID:    rc.RunID,
		ThreadID: rc.ThreadID,
		Stage:    string(stage),
		BranchID: branchID,
		Status:   status,
	})
}

// --- Stages ---

func (p *Pipeline) detect(_ context.Context, _ run.Context, st run.State) (run.Delta, error) {
	content := st.Message.Content()
	det := &run.Detection{Threshold: p.cfg.IntentThreshold, Intents: []string{}}

	risk := defence.Screen(content)
	if len(risk.Categories) > 0 {
		det.Risk = &risk
	}
	if !risk.Allowed {
		return run.Delta{Detection: det}, nil
	}

	d := p.classifier.Detect(content)
	det.Raw = d.Intents
	det.Confidence = d.Confidence
	if d.Confidence >= p.cfg.IntentThreshold {
		det.Intents = append([]string{}, d.Intents...)
	}
	return run.Delta{Detection: det}, nil
}

func (p *Pipeline) composeTeam(_ context.Context, _ run.Context, st run.State) (run.Delta, error) {
	return run.Delta{Team: &run.Team{Members: persona.ComposeTeam(st.Intents())}}, nil
}

func (p *Pipeline) forkPlans(ctx context.Context, rc run.Context, st run.State) (run.Delta, error) {
	fork, err := p.planner.Fork(ctx, rc, st)
	if err != nil {
		return run.Delta{}, err
	}
	return run.Delta{Fork: fork}, nil
}

// executeBranches fans out one task per branch and joins them before
// returning. Each task writes only its own slot.
func (p *Pipeline) executeBranches(ctx context.Context, rc run.Context, st run.State) (run.Delta, error) {
	branches := st.Branches()
	results := make([]artifact.Artifact, len(branches))

	var g errgroup.Group
	if p.cfg.MaxParallel > 0 {
		g.SetLimit(p.cfg.MaxParallel)
	}
	for i, b := range branches {
		g.Go(func() error {
			results[i] = p.runBranch(ctx, rc, b.Plan)
			return nil
		})
	}
	_ = g.Wait()

	arts := make(map[string]artifact.Artifact, len(results))
	for _, a := range results {
		arts[a.PlanID] = a
	}
	return run.Delta{Artifacts: arts}, nil
}

func (p *Pipeline) runBranch(ctx context.Context, rc run.Context, pl plan.Plan) artifact.Artifact {
	inv := Invocation{Run: rc, Stage: run.StageExecute, BranchID: pl.ID, Input: pl}
	out, err := p.intercept(ctx, inv, func(ctx context.Context) (any, error) {
		return p.safeExecute(ctx, pl)
	})
	if err != nil {
		p.emit(ctx, rc, run.StageExecute, pl.ID, trace.StatusError)
		return artifact.Placeholder(pl, err)
	}
	p.emit(ctx, rc, run.StageExecute, pl.ID, trace.StatusOK)
	return out.(artifact.Artifact)
}

// errBranchPanic marks a recovered executor panic.
var errBranchPanic = errors.New("branch panicked")

func (p *Pipeline) safeExecute(ctx context.Context, pl plan.Plan) (a artifact.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "branch panic recovered", "branch_id", pl.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", errBranchPanic, r)
		}
	}()
	return p.execute(ctx, pl)
}

func (p *Pipeline) judgeBranches(ctx context.Context, rc run.Context, st run.State) (run.Delta, error) {
	v := p.judge.Evaluate(ctx, rc, st.Branches())
	return run.Delta{Verdict: &v}, nil
}

func (p *Pipeline) gate(_ context.Context, _ run.Context, st run.State) (run.Delta, error) {
	v := verdict.Judge(nil)
	if st.Verdict != nil {
		v = *st.Verdict
	}
	g := verdict.Gate(v)
	return run.Delta{Gated: &g}, nil
}

func (p *Pipeline) finalize(ctx context.Context, rc run.Context, st run.State) (run.Delta, error) {
	out := &run.Outcome{Action: verdict.ActionAbstain}
	if st.Gated != nil {
		out.Action = st.Gated.Action
		out.PlanID = st.Gated.WinningPlan.ID
	}
	if a, ok := st.Artifacts[out.PlanID]; ok {
		out.ArtifactKind = a.Kind
		out.Shipped = out.Action == verdict.ActionApprove && !a.Failed
	}
	slog.InfoContext(ctx, "run finalized",
		"run_id", rc.RunID,
		"action", out.Action,
		"plan_id", out.PlanID,
		"shipped", out.Shipped,
	)
	return run.Delta{Outcome: out}, nil
}
