package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/plan"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/verdict"
	"github.com/overhearops/overhearops/internal/port/provider"
	"github.com/overhearops/overhearops/internal/resilience"
)

// Judge scores branches with the persona panel. A provider verdict naming
// one of the branch plans takes precedence over heuristic scoring.
type Judge struct {
	provider provider.Provider
	breaker  *resilience.Breaker
}

// NewJudge creates a Judge. prov and breaker may be nil.
func NewJudge(prov provider.Provider, breaker *resilience.Breaker) *Judge {
	return &Judge{provider: prov, breaker: breaker}
}

// Evaluate returns the panel verdict for branches.
func (j *Judge) Evaluate(ctx context.Context, rc run.Context, branches []plan.Branch) verdict.Verdict {
	if len(branches) == 0 || j.provider == nil {
		return verdict.Judge(branches)
	}

	data, err := callProvider(ctx, j.breaker, j.provider, provider.TaskJudge, rc.ThreadID, branches)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.DebugContext(ctx, "no provider verdict, scoring heuristically", "thread", rc.ThreadID)
		} else {
			slog.WarnContext(ctx, "provider judge failed, scoring heuristically", "thread", rc.ThreadID, "error", err)
		}
		return verdict.Judge(branches)
	}

	var out verdict.ProviderOutput
	if err := json.Unmarshal(data, &out); err != nil {
		slog.WarnContext(ctx, "provider verdict malformed, scoring heuristically", "thread", rc.ThreadID, "error", err)
		return verdict.Judge(branches)
	}
	v, ok := verdict.FromProvider(out, branches)
	if !ok {
		slog.WarnContext(ctx, "provider winner not among branches, scoring heuristically",
			"thread", rc.ThreadID, "winner", out.WinnerPlanID)
		return verdict.Judge(branches)
	}
	return v
}
