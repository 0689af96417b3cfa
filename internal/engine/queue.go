package engine

import (
	"context"
	"sync"
)

// task is one unit of work on a serial context.
type task struct {
	// kind labels the work for logs and metrics, e.g. "query".
	kind string
	fn   func(ctx context.Context)
}

// taskQueue is a thread-safe FIFO queue drained by exactly one goroutine.
//
// The queue is unbounded so tasks may enqueue follow-up tasks (including
// onto their own queue) without blocking.
//
// pending counts tasks that are queued or running. It drops to zero only
// after the last task's fn has returned, so anything a task enqueues on its
// own queue keeps the queue busy. WaitIdle builds on this.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the run loop (prevents goroutine hangs on context cancellation).
type taskQueue struct {
	name string

	mu       sync.Mutex
	tasks    []task
	closed   bool
	pending  int
	enqueued uint64
	idle     chan struct{} // closed when pending reaches zero
	signal   chan struct{} // signals task availability (buffered, size 1)

	onDepth func(int)
}

func newTaskQueue(name string) *taskQueue {
	return &taskQueue{
		name:   name,
		tasks:  make([]task, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, t)
	q.pending++
	q.enqueued++
	q.reportDepth()

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}
	t := q.tasks[0]
	// Nil out the slot so the closure can be collected.
	q.tasks[0] = task{}
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Done marks one dequeued task as finished.
func (q *taskQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	q.reportDepth()
	if q.pending == 0 && q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
}

// reportDepth publishes pending to onDepth. Caller holds q.mu, so updates
// arrive in order; onDepth must not call back into the queue.
func (q *taskQueue) reportDepth() {
	if q.onDepth != nil {
		q.onDepth(q.pending)
	}
}

// Wait returns a channel that signals when tasks may be available.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued (not running) tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Pending returns queued plus running tasks.
func (q *taskQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Enqueued returns the total number of tasks ever accepted.
func (q *taskQueue) Enqueued() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued
}

// WaitIdle blocks until no task is queued or running.
func (q *taskQueue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// Close signals that no more tasks will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// run drains the queue until ctx is done or the queue is closed and empty.
// CRITICAL: Must be called from exactly ONE goroutine per queue.
func (q *taskQueue) run(ctx context.Context) {
	for {
		if t, ok := q.TryDequeue(); ok {
			if ctx.Err() != nil {
				q.Done()
				continue
			}
			t.fn(ctx)
			q.Done()
			continue
		}

		select {
		case <-ctx.Done():
			q.Close()
			q.drop()
			return
		case _, open := <-q.Wait():
			if !open && q.Len() == 0 {
				return
			}
		}
	}
}

// drop discards queued tasks after shutdown so WaitIdle callers wake up.
func (q *taskQueue) drop() {
	for {
		if _, ok := q.TryDequeue(); !ok {
			return
		}
		q.Done()
	}
}
