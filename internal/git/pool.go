// Package git bounds concurrent git CLI invocations. Worktree creation,
// stat collection, and staging all shell out to git; the shared pool
// keeps a large fleet of tasks from exhausting the host.
package git

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool is a weighted-semaphore gate around git operations. A nil Pool
// runs operations directly, which keeps tests free of setup.
type Pool struct {
	slots *semaphore.Weighted
}

func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{slots: semaphore.NewWeighted(int64(limit))}
}

// Run executes op once a slot is free. It returns ctx.Err() when the
// context is cancelled while waiting, without running op.
func (p *Pool) Run(ctx context.Context, op func() error) error {
	if p == nil || p.slots == nil {
		return op()
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slots.Release(1)
	return op()
}
