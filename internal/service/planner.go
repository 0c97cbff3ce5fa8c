package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/domain/plan"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/port/provider"
	"github.com/overhearops/overhearops/internal/resilience"
)

// Planner forks a run into candidate plans from the template library, or
// from a provider's plan list when one is configured and answers.
type Planner struct {
	library  plan.Library
	width    int
	provider provider.Provider
	breaker  *resilience.Breaker
}

// NewPlanner creates a Planner. prov and breaker may be nil.
func NewPlanner(library plan.Library, width int, prov provider.Provider, breaker *resilience.Breaker) *Planner {
	if library == nil {
		library = plan.DefaultLibrary()
	}
	return &Planner{library: library, width: plan.ClampWidth(width), provider: prov, breaker: breaker}
}

// planRequest is the payload offered to the provider.
type planRequest struct {
	Category string   `json:"category"`
	Intents  []string `json:"intents"`
	Content  string   `json:"content"`
}

// providerPlans accepts either {"plans": [...]} or a bare plan array.
type providerPlans struct {
	Plans []plan.Plan `json:"plans"`
}

// Fork resolves the category and returns the capped, padded plan set.
func (p *Planner) Fork(ctx context.Context, rc run.Context, st run.State) (*run.Fork, error) {
	content := st.Message.Content()
	category := p.library.ResolveCategory(st.Intents(), content)
	candidates := p.library.Templates(category)

	if p.provider != nil {
		req := planRequest{Category: category, Intents: st.Intents(), Content: content}
		override, err := p.fromProvider(ctx, rc.ThreadID, req)
		switch {
		case err == nil:
			candidates = override
		case errors.Is(err, domain.ErrNotFound):
			slog.DebugContext(ctx, "no provider plans, using library", "thread", rc.ThreadID, "category", category)
		default:
			slog.WarnContext(ctx, "provider plans rejected, using library", "thread", rc.ThreadID, "error", err)
		}
	}

	plans := plan.Fork(candidates, p.width)
	return &run.Fork{
		Category: category,
		Plans:    plans,
		Branches: plan.Branches(plans),
	}, nil
}

func (p *Planner) fromProvider(ctx context.Context, threadID string, req planRequest) ([]plan.Plan, error) {
	data, err := callProvider(ctx, p.breaker, p.provider, provider.TaskPlan, threadID, req)
	if err != nil {
		return nil, err
	}
	plans, err := parseProviderPlans(data)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("provider %s: %w", p.provider.Name(), plan.ErrEmptyCandidateList)
	}
	for i := range plans {
		plans[i].BlastRadius = plan.ParseBlastRadius(string(plans[i].BlastRadius))
		if err := plans[i].Validate(); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func parseProviderPlans(data []byte) ([]plan.Plan, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var plans []plan.Plan
		if err := json.Unmarshal(trimmed, &plans); err != nil {
			return nil, fmt.Errorf("decode plan list: %w: %v", domain.ErrMalformed, err)
		}
		return plans, nil
	}
	var wrapped providerPlans
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode plan list: %w: %v", domain.ErrMalformed, err)
	}
	return wrapped.Plans, nil
}

// callProvider runs a provider request through the breaker when one is set.
func callProvider(ctx context.Context, b *resilience.Breaker, prov provider.Provider, task, threadID string, payload any) ([]byte, error) {
	fn := func() ([]byte, error) { return prov.GenerateJSON(ctx, task, threadID, payload) }
	if b == nil {
		return fn()
	}
	return resilience.Call(b, fn)
}
