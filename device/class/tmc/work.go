package tmc

import (
	"context"

	"github.com/ardnew/microscpi/pkg"
)

// WorkQueue runs deferred work items one at a time on a single goroutine.
// Everything that touches the reassembler, the handler or the Bulk-IN
// sender runs here.
type WorkQueue struct {
	items chan func()
}

// NewWorkQueue returns a queue that buffers up to size pending items.
func NewWorkQueue(size int) *WorkQueue {
	if size <= 0 {
		size = DefaultWorkQueueSize
	}
	return &WorkQueue{items: make(chan func(), size)}
}

// Schedule queues fn without blocking. It returns false when the queue is
// full. Safe to call from the receive path.
func (q *WorkQueue) Schedule(fn func()) bool {
	select {
	case q.items <- fn:
		return true
	default:
		return false
	}
}

// Submit queues fn, waiting for room until ctx is done.
func (q *WorkQueue) Submit(ctx context.Context, fn func()) error {
	select {
	case q.items <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued items until ctx is done.
func (q *WorkQueue) Run(ctx context.Context) {
	for {
		select {
		case fn := <-q.items:
			q.run(fn)
		case <-ctx.Done():
			return
		}
	}
}

// run executes one item, keeping the worker alive if a callback panics.
func (q *WorkQueue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			pkg.LogError(pkg.ComponentTMC, "deferred work panicked", "panic", r)
		}
	}()
	fn()
}
