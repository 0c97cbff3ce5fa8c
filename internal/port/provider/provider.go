// Package provider defines the port for structured plan and judge generation.
package provider

import "context"

// Tasks a provider can answer.
const (
	TaskPlan  = "plan"
	TaskJudge = "judge"
)

// Provider returns a JSON document for a task on a thread. Implementations
// wrap domain.ErrNotFound when they hold no answer for the pair.
type Provider interface {
	Name() string
	GenerateJSON(ctx context.Context, task, threadID string, payload any) ([]byte, error)
}
