package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many extraction jobs (fetch + parse of an upstream
// page) run at once. Callers queue for a slot instead of spawning unbounded work.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int
}

// NewWorkerPool creates a pool with size slots (16 when size <= 0).
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 16
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int { return p.size }

// Submit runs fn in a pool slot, waiting for one if all are busy.
// A nil pool runs fn directly.
func Submit[T any](ctx context.Context, p *WorkerPool, fn func(context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
