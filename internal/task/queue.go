// internal/task/queue.go
package task

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of parallel-safe work. Tasks receive and return
// plain data only; a worker that needs a backend rebuilds its own from
// a storage.Descriptor.
type Task func(ctx context.Context) (interface{}, error)

// Queue dispatches tasks to a bounded worker pool. Results are folded
// through the OnComplete callback one at a time; a failing task is
// reported there and never aborts the pool.
type Queue struct {
	g   *errgroup.Group
	ctx context.Context

	mu         sync.Mutex
	onComplete func(value interface{}, err error)
}

func NewQueue(ctx context.Context, workers int) *Queue {
	g := &errgroup.Group{}
	if workers > 0 {
		g.SetLimit(workers)
	}
	return &Queue{g: g, ctx: ctx}
}

// OnComplete registers the fold callback. It is invoked under the
// queue's lock, so the callback may mutate shared accumulator state
// without further synchronization.
func (q *Queue) OnComplete(fn func(value interface{}, err error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onComplete = fn
}

// Add submits a task. Blocks when all workers are busy.
func (q *Queue) Add(t Task) {
	q.g.Go(func() error {
		value, err := t(q.ctx)
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.onComplete != nil {
			q.onComplete(value, err)
		}
		return nil
	})
}

// AwaitAll blocks until every submitted task has completed. Per-task
// failures are delivered through OnComplete, not here; the only error
// returned is context cancellation.
func (q *Queue) AwaitAll() error {
	if err := q.g.Wait(); err != nil {
		return err
	}
	return q.ctx.Err()
}
