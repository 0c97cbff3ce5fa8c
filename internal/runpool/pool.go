// Package runpool bounds how many pipeline runs execute at once.
package runpool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool admits at most limit concurrent runs using a weighted semaphore.
// Runs beyond the limit queue until a slot frees or their context ends.
type Pool struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

// New creates a Pool admitting at most limit runs. Limits below 1 clamp to 1.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Run acquires a slot, runs fn and releases the slot. It returns ctx.Err()
// if the context ends while waiting. A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	if p == nil || p.sem == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()
	return fn(ctx)
}

// InFlight returns the number of runs currently holding a slot.
func (p *Pool) InFlight() int {
	if p == nil {
		return 0
	}
	return int(p.inFlight.Load())
}

// Limit returns the configured slot count.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}
