package async

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var nextJobID uint64

// Job is implemented by every long-lived logical task dispatched through a
// Queue: ReplyContext, the DNS resolver's per-query state, and the
// out-of-scope forwarding state all embed a *Base to get this for free.
type Job interface {
	// Base returns the embedded lifecycle state. Never nil.
	Base() *Base
	// DoneAll reports type-specific completion, independent of mustStop.
	// The zero behavior (Base.DoneAll) returns true so it is always safe
	// for an embedder to not override it.
	DoneAll() bool
	// SwanSong runs exactly once, right before the job is destroyed.
	SwanSong()
}

// Base is the embeddable AsyncJob lifecycle: identity, the single in-flight
// call guard, and the stop reason that callEnd checks to decide whether to
// invoke SwanSong and retire the job.
type Base struct {
	mu         sync.Mutex
	typeName   string
	id         uint64
	stopReason *string
	inCall     *string
	cell       *validity
}

// NewBase constructs lifecycle state for a job of the given type name.
func NewBase(typeName string) Base {
	return Base{
		typeName: typeName,
		id:       atomic.AddUint64(&nextJobID, 1),
		cell:     newValidity(),
	}
}

// DoneAll is the default completion predicate: true, so composing types only
// need to override it when they have real pending work.
func (b *Base) DoneAll() bool { return true }

// TypeName returns the job's debug-tagged type name.
func (b *Base) TypeName() string { return b.typeName }

// Status renders a short debug string, e.g. "job#7 [stopped: reentrant job call]".
func (b *Base) Status() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopReason != nil {
		return fmt.Sprintf("%s#%d [stopped: %s]", b.typeName, b.id, *b.stopReason)
	}
	return fmt.Sprintf("%s#%d", b.typeName, b.id)
}

// canBeCalled rejects reentrant calls into the same job, returning the
// cancellation reason when it does.
func (b *Base) canBeCalled() (ok bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inCall != nil {
		return false, "reentrant job call"
	}
	return true, ""
}

func (b *Base) callStart(name string) {
	b.mu.Lock()
	b.inCall = &name
	b.mu.Unlock()
}

// MustStop records the first stop reason, deferring destruction until the
// current call returns via callEnd.
//
// Calling MustStop outside of any call (the legacy path the original source
// warns about) still records the reason but the job will not be retired
// until something else calls back into it — spec.md §9 Open Question (a)
// flags this as a latent bug upstream; here it is merely logged loudly so it
// is never silent.
func (b *Base) MustStop(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopReason != nil {
		return
	}
	b.stopReason = &reason
	if b.inCall == nil {
		slog.Default().Warn("mustStop called outside a job call",
			"job", b.typeName, "id", b.id, "reason", reason)
	}
}

// StopReason returns the recorded stop reason, if any.
func (b *Base) StopReason() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopReason == nil {
		return "", false
	}
	return *b.stopReason, true
}

func (b *Base) done(j Job) bool {
	b.mu.Lock()
	stopped := b.stopReason != nil
	b.mu.Unlock()
	return stopped || j.DoneAll()
}

func (b *Base) callEnd(j Job) {
	if b.done(j) {
		j.SwanSong()
		b.cell.invalidate()
		b.mu.Lock()
		b.inCall = nil
		b.mu.Unlock()
		return
	}
	b.mu.Lock()
	b.inCall = nil
	b.mu.Unlock()
}

// Self returns a weak reference to job, sharing this Base's validity cell.
func Self[T Job](job T) Handle[T] {
	return deriveHandle(job, job.Base().cell)
}

// Start schedules job's start() as the first asynchronous call on queue,
// mirroring AsyncJob::Start. startFn is the job's start() method.
func Start[T Job](queue *Queue, job T, startFn func(T)) Handle[T] {
	h := Self(job)
	CallJob(queue, h, job.Base().typeName+"::start", startFn)
	return h
}

// CallJob schedules fn to run against the job behind h on queue. If the job
// is gone by the time the call fires, or canBeCalled rejects it (reentrancy),
// the call is silently cancelled — exactly as dispatching through a dead
// CbcPointer is in the original source.
func CallJob[T Job](queue *Queue, h Handle[T], name string, fn func(T)) {
	queue.Schedule(Call{
		Name: name,
		Fire: func() {
			job, ok := h.Get()
			if !ok {
				return // job destroyed before this call could fire
			}
			base := job.Base()
			if ok, _ := base.canBeCalled(); !ok {
				return // reentrant job call: cancelled silently
			}
			base.callStart(name)
			callWithExceptionPolicy(base, func() { fn(job) })
			base.callEnd(job)
		},
	})
}

// callWithExceptionPolicy runs body, converting any panic into
// mustStop("exception") so a broken call terminates only its own job at the
// next callEnd rather than crashing the dispatcher.
func callWithExceptionPolicy(b *Base, body func()) {
	defer func() {
		if r := recover(); r != nil {
			b.MustStop("exception")
		}
	}()
	body()
}
