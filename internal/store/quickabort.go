package store

// QuickAbortConfig carries the independently configurable min/max/pct
// bounds from reply.quick_abort_{min,max,pct}. A negative value disables
// the clause it governs, matching the original's "negative value turns
// this check off" convention for each of the three knobs.
type QuickAbortConfig struct {
	Min int64 // bytes; negative disables the "cheap to finish" exemption
	Max int64 // bytes; negative disables the "too expensive" abort trigger
	Pct int64 // 0-100; negative disables the "nearly done" exemption

	// RangeOffsetUnlimited mirrors an admin range_offset_limit of -1: the
	// operator wants pending fetches carried to completion regardless of
	// the other thresholds. Per-request range tracking is out of scope, so
	// this is evaluated as a single process-wide toggle rather than a
	// request-level check.
	RangeOffsetUnlimited bool
}

// quickAbortTinyObject is the "total expected length is unknown (<100
// bytes)" exemption: a declared length this small isn't worth the
// bookkeeping of a quick-abort decision either way.
const quickAbortTinyObject = 100

// defaultQuickAbort is used by callers that have not threaded a
// QuickAbortConfig through (existing call sites and tests), keeping the
// documented defaults even where no explicit config reaches MaybeQuickAbort.
var defaultQuickAbort = QuickAbortConfig{Min: 16 * 1024, Max: 16 * 1024 * 1024, Pct: 95}

// SetDefaultQuickAbort installs the process-wide quick-abort bounds loaded
// from reply.quick_abort_{min,max,pct}, consulted by any detach that does
// not supply its own QuickAbortConfig.
func SetDefaultQuickAbort(cfg QuickAbortConfig) {
	defaultQuickAbort = cfg
}

// MaybeQuickAbort is invoked whenever a store_client detaches and leaves the
// entry with zero readers. A PENDING entry with no one left interested in it
// is decided against the documented table: abort unless the fetch is cheap
// to finish, nearly done, too small to matter, or the admin has disabled
// range limiting; otherwise abort if it would run too far, the entry is
// private, not cacheable, or its length is unknown.
func MaybeQuickAbort(e *Entry) {
	maybeQuickAbort(e, defaultQuickAbort)
}

// MaybeQuickAbortWithConfig is MaybeQuickAbort with an explicit bounds set,
// for callers (the runner, tests) that have a *config.Config in hand rather
// than relying on the process-wide default installed by SetDefaultQuickAbort.
func MaybeQuickAbortWithConfig(e *Entry, cfg QuickAbortConfig) {
	maybeQuickAbort(e, cfg)
}

func maybeQuickAbort(e *Entry, cfg QuickAbortConfig) {
	e.mu.Lock()
	status := e.StoreStatus
	special := e.Flags.Special
	private := e.Flags.KeyPrivate
	e.mu.Unlock()

	if status != StorePending || special {
		return // already finished, or exempted (e.g. a purge-triggered fetch)
	}

	if cfg.RangeOffsetUnlimited {
		return // admin wants every pending fetch carried to completion
	}

	received := e.EndOffset()
	total := e.ExpectedLen()

	if total >= 0 && total < quickAbortTinyObject {
		return // too small a declared length to bother quick-aborting
	}

	if total >= 0 {
		remaining := total - received

		if cfg.Min >= 0 && remaining < cfg.Min {
			return // cheap enough to just let finish
		}

		if cfg.Pct >= 0 && total > 0 {
			pctReceived := received * 100 / total
			if pctReceived >= cfg.Pct {
				return // close enough to done: worth finishing for the cache
			}
		}

		if cfg.Max >= 0 && remaining > cfg.Max {
			e.Abort()
			return // would run too far past where the client walked away
		}
	}

	if private || total < 0 {
		e.Abort()
		return // KEY_PRIVATE, or content length missing: not worth keeping
	}
}

// EndOffset reports how many bytes of the object have arrived so far,
// whether still in memory or already swapped to disk.
func (e *Entry) EndOffset() int64 {
	e.mu.Lock()
	mem := e.Mem
	e.mu.Unlock()
	if mem == nil {
		return 0
	}
	return mem.EndOffset()
}

// ExpectedLen returns the object's declared length as soon as the reply
// header has been parsed, even while the entry is still PENDING — unlike
// ObjectLen, which only resolves once the fetch has reached StoreOK. Quick
// abort needs to reason about a fetch that is still in flight, so it reads
// the declared Content-Length directly off the in-progress MemObject.
func (e *Entry) ExpectedLen() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Mem == nil || e.Mem.Reply == nil || e.Mem.Reply.ContentLen < 0 {
		return -1
	}
	return e.Mem.Reply.HeaderSize + e.Mem.Reply.ContentLen
}
