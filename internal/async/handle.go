package async

import (
	"sync"
	"sync/atomic"
)

var nextHandleID uint64

// validity is the shared cell behind every Handle derived from the same
// owner. invalidate() is called exactly once, when the owner is destroyed;
// every outstanding Handle observes the change on its next Get.
type validity struct {
	mu sync.Mutex
	ok bool
}

func newValidity() *validity {
	return &validity{ok: true}
}

func (v *validity) invalidate() {
	v.mu.Lock()
	v.ok = false
	v.mu.Unlock()
}

func (v *validity) valid() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ok
}

// Handle is a weak reference to a value of type T. It loses validity when
// the owner invalidates the shared cell (normally: when an async.Job is
// destroyed in callEnd). Dispatching a call through an invalid Handle is a
// silent no-op — this is the mechanism spec.md §9 asks implementers to unify
// cyclic-ownership invalidation with the job weak-handle mechanism around.
type Handle[T any] struct {
	id    uint64
	cell  *validity
	value T
}

// NewHandle wraps value in a fresh, valid Handle and returns the handle along
// with the validity cell the owner must invalidate on destruction.
func NewHandle[T any](value T) (Handle[T], *validity) {
	cell := newValidity()
	return Handle[T]{
		id:    atomic.AddUint64(&nextHandleID, 1),
		cell:  cell,
		value: value,
	}, cell
}

// deriveHandle produces another Handle sharing an existing validity cell —
// used when a job hands out more than one weak reference to itself.
func deriveHandle[T any](value T, cell *validity) Handle[T] {
	return Handle[T]{id: atomic.AddUint64(&nextHandleID, 1), cell: cell, value: value}
}

// Get returns the wrapped value and true if the owner is still alive, or the
// zero value and false if it has been destroyed.
func (h Handle[T]) Get() (T, bool) {
	if h.cell == nil || !h.cell.valid() {
		var zero T
		return zero, false
	}
	return h.value, true
}

// Valid reports whether the owner behind this handle is still alive.
func (h Handle[T]) Valid() bool {
	return h.cell != nil && h.cell.valid()
}
