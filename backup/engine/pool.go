package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool runs many tasks' RunOnce loops concurrently, bounded to a fixed
// number of simultaneously-running coroutines. The engine is sequential
// *within* a task and gets its throughput from running many tasks at
// once; Pool is that scheduler.
type Pool struct {
	engine *Engine
	sem    *semaphore.Weighted
}

// NewPool bounds concurrent RunOnce calls to maxConcurrent.
func NewPool(e *Engine, maxConcurrent int64) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{engine: e, sem: semaphore.NewWeighted(maxConcurrent)}
}

// RunAll runs one RunOnce pass for each of taskIDs, waiting for all to
// finish, and returns their events in input order. A single task's
// internal error never aborts the others; ctx cancellation does.
func (p *Pool) RunAll(ctx context.Context, taskIDs []string) ([]Event, error) {
	events := make([]Event, len(taskIDs))
	g, gCtx := errgroup.WithContext(ctx)
	for i, taskID := range taskIDs {
		i, taskID := i, taskID
		g.Go(func() error {
			if err := p.sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer p.sem.Release(1)
			events[i] = p.engine.RunOnce(gCtx, taskID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return events, err
	}
	return events, nil
}
