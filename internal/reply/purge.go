package reply

import (
	"github.com/cachegate/cachegate/internal/store"
)

// purgeableMethods are the request methods whose cache entries a PURGE
// sweeps, mirroring purgeAllCached's iteration over the methods a URL may
// have been cached under: GET and HEAD. Vary-selected variants of either
// are not swept.
var purgeableMethods = []Method{MethodGET, MethodHEAD}

// startPurge implements the PURGE state machine: disabled outright when the
// admin hasn't opted in, otherwise a sweep across every cacheable method for
// the URL. The first entry found is served back to the client as a
// temporary HIT (its stored body, once) before being released, matching
// purgeFoundObject's lock-attach-stream-then-release sequence; any further
// cached methods for the same URL are released without re-sending a body,
// same as purgeAllCached's continuation over the remaining variants. If
// nothing is found at all, 404. A second PURGE on an already-purged URL is
// idempotent: it finds nothing, releases nothing, and still returns 404.
func (c *Context) startPurge() {
	if !c.cfg.EnablePurge {
		c.finish(Response{Status: 403, LogType: LogTCPMiss})
		return
	}
	c.purgeSweep(0)
}

// purgeSweep walks purgeableMethods from index i looking for the first live
// entry to serve-then-release. Entries already aborted (purged by an
// earlier sweep, or never really cached) are skipped with no effect.
func (c *Context) purgeSweep(i int) {
	for i < len(purgeableMethods) {
		m := purgeableMethods[i]
		entry, ok := c.lookup(storeKey(c.req.URL, m))
		if ok && entry != nil && !entry.Flags.Aborted {
			c.purgeFoundObject(entry, i)
			return
		}
		i++
	}
	c.finish(Response{Status: 404, LogType: LogTCPMiss})
}

// purgeFoundObject serves entry's body back to the client exactly once as a
// LOG_TCP_HIT, then releases it and releases whatever remains of the sweep,
// grounded on purgeFoundObject (client_side_reply.cc:847-901): lock the
// entry, attach a store_client, stream the body to completion, then proceed
// to the release the purge was for.
func (c *Context) purgeFoundObject(entry *store.Entry, i int) {
	entry.Lock()
	sc := store.NewClient(c.queue, entry)

	var body []byte
	buf := make([]byte, 64*1024)
	var step func(store.CopyResult)
	step = func(res store.CopyResult) {
		if res.Length > 0 {
			chunk := make([]byte, res.Length)
			copy(chunk, buf[:res.Length])
			body = append(body, chunk...)
		}
		if res.Err != nil || res.Length == 0 {
			c.finishPurgedEntry(entry, body, i)
			return
		}
		sc.Copy(buf, step)
	}
	sc.Copy(buf, step)
}

// finishPurgedEntry releases the just-served entry, sweeps any remaining
// purgeable methods (release only, no further body sent), and delivers the
// served body as the final 200 response.
func (c *Context) finishPurgedEntry(entry *store.Entry, body []byte, i int) {
	entry.Unlock()
	entry.Release()

	resp := Response{Status: 200, LogType: LogTCPHit, Body: body}
	if entry.Mem != nil && entry.Mem.Reply != nil && entry.Mem.Reply.StatusSet {
		resp.Status = entry.Mem.Reply.Status
		resp.Headers = cloneHeaders(entry.Mem.Reply.Headers)
	}

	for j := i + 1; j < len(purgeableMethods); j++ {
		c.purgeMethod(purgeableMethods[j])
	}

	c.finish(c.buildReplyHeader(resp))
}

// purgeMethod looks up the entry cached under method m for the current URL
// and releases it if one exists, reporting whether anything was found. Used
// only for the release-only tail of a sweep, once the first found entry has
// already been served back to the client.
func (c *Context) purgeMethod(m Method) bool {
	entry, ok := c.lookup(storeKey(c.req.URL, m))
	if !ok || entry == nil {
		return false
	}
	if entry.Flags.Aborted {
		// Already released by an earlier purge or abort: nothing new to do,
		// and nothing to report as found.
		return false
	}
	entry.Release()
	return true
}

// StoreKey derives the per-method cache key both ordinary lookups and PURGE
// sweeps address entries by, so a PURGE for a URL actually finds what a
// preceding GET cached under it. Exported so an external driver registering
// newly forwarded entries (StoreLookup is driver-owned, not reply-owned)
// can key them the same way. A real Vary-aware store would also sweep every
// variant key derived from the base; that sweep is out of scope here since
// this port's store has no Vary-variant key derivation of its own
// (§ Non-goals).
func StoreKey(url string, m Method) string {
	return string(m) + " " + url
}

func storeKey(url string, m Method) string {
	return StoreKey(url, m)
}
