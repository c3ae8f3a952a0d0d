// Package async implements the cooperative single-threaded dispatch model
// that every other cachegate component schedules its callbacks through: a
// FIFO call queue plus a long-lived Job lifecycle built on top of it.
package async

import "sync"

// Call is a single deferred invocation. Fire runs the call's body; it is
// never re-entered and never called concurrently with another Call from the
// same Queue.
type Call struct {
	Name string
	Fire func()
}

// Queue is a process-wide (or per-listener, in tests) FIFO of pending calls.
// Schedule appends; Fire drains, running calls scheduled during Fire in the
// same invocation, in arrival order.
//
// Unlike the originating C++ implementation's intrusive singly-linked list,
// Queue is backed by a plain slice: the corpus has no need for the
// embedded-node trick once callers no longer manage their own links.
type Queue struct {
	mu      sync.Mutex
	pending []Call
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Schedule appends a call to the tail of the queue.
func (q *Queue) Schedule(c Call) {
	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()
}

// Fire drains the queue, including calls scheduled by calls that are
// themselves being fired. It returns whether at least one call fired.
//
// Fire must only be invoked from the top-level event loop tick; it is not
// safe to call Fire reentrantly from inside a Call.Fire body.
func (q *Queue) Fire() bool {
	fired := false
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		c := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fired = true
		c.Fire()
	}
	return fired
}

// Len reports the number of calls currently queued. Intended for tests and
// diagnostics, not for control flow.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
