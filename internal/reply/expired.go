package reply

import (
	"github.com/cachegate/cachegate/internal/store"
)

// processExpired starts a validation round trip: it saves the current
// (stale) entry and client aside, opens a fresh anonymous entry carrying
// the old Last-Modified/ETag as conditional-request material, and forwards
// with Refresh set so the origin is asked to revalidate rather than
// re-fetch unconditionally.
func (c *Context) processExpired() {
	if err := c.saveState(); err != nil {
		// Already mid-validation: fall through to whatever the old entry
		// already has rather than recurse.
		c.sendEntry(LogTCPHit)
		return
	}

	fresh := store.NewEntry(c.entry.Key, c.entry.URL, string(c.req.Method))
	fresh.Lock()
	fresh.EnsureMemObject(string(c.req.Method))

	c.entry = fresh
	c.sc = store.NewClient(c.queue, fresh)
	c.req.Refresh = true
	c.pendingBody = nil

	if c.oldEntry.Mem != nil && c.oldEntry.Mem.Reply != nil {
		lastMod := c.oldEntry.Mem.Reply.LastModified
		c.req.IfModifiedSince = &lastMod
		if c.oldEntry.Mem.Reply.ETag != "" {
			c.req.IfNoneMatch = []string{c.oldEntry.Mem.Reply.ETag}
		}
	}

	if c.forward != nil {
		c.forward(c.req, fresh)
	}

	buf := make([]byte, 64*1024)
	c.sc.Copy(buf, func(res store.CopyResult) {
		c.handleIMSReply(res)
	})
}

// saveState snapshots the in-flight entry/client pair aside so
// processExpired can stand up a second, independent fetch. It is an error
// to call this while a save is already outstanding: the invariant is
// saveState requires old_sc == nil.
func (c *Context) saveState() error {
	if c.oldEntry != nil {
		return errAlreadySaved
	}
	c.oldEntry = c.entry
	c.oldSC = c.sc
	c.clientIMS = c.req.IfModifiedSince
	c.clientIMSSet = true
	return nil
}

// restoreState undoes saveState, restoring the entry/client pair that was
// set aside. Used whenever the revalidation path decides the old entry,
// not the fresh one, is what the client should ultimately receive.
func (c *Context) restoreState() {
	c.entry = c.oldEntry
	c.sc = c.oldSC
	c.oldEntry = nil
	c.oldSC = nil
	c.clientIMS = nil
	c.clientIMSSet = false
}

var errAlreadySaved = stateErr("reply: saveState called with a save already pending")

type stateErr string

func (e stateErr) Error() string { return string(e) }

// handleIMSReply dispatches on the fresh fetch's outcome: aborted, 304, a
// non-304 1xx-4xx, or a 5xx, each with its own log type and choice between
// the fresh response and the saved-aside old entry.
func (c *Context) handleIMSReply(res store.CopyResult) {
	if res.Err != nil {
		// ABORTED: the revalidation attempt itself failed outright. Per the
		// old-entry-preserving branch, log the failure and send back the old
		// entry — then stop; nothing below this should also run for an
		// aborted fetch.
		c.restoreState()
		c.sendEntry(LogRefreshFailOld)
		return
	}

	fresh := c.entry
	reply := fresh.Mem.Reply

	switch {
	case reply != nil && reply.Status == 304:
		c.mergeNotModified()
		return

	case reply != nil && reply.Status >= 100 && reply.Status < 500 && reply.Status != 304:
		c.oldEntry.Release()
		c.oldEntry = nil
		c.oldSC = nil
		c.sendEntry(LogRefreshModified)
		return

	case reply != nil && reply.Status >= 500:
		if c.cfg.FailOnValidationErr {
			c.sendEntry(LogRefreshModified)
			return
		}
		c.restoreState()
		c.sendEntry(LogRefreshFailOld)
		return

	default:
		c.restoreState()
		c.sendEntry(LogRefreshFailOld)
	}
}

// mergeNotModified updates the old entry's headers in place from the 304's
// headers and re-stamps its timestamps. If the client's own request carried
// an If-Modified-Since and the refreshed entry is still not modified as of
// that time, the client's own conditional is satisfied too: a bare 304 is
// forwarded upstream-to-client rather than resending the full merged entry.
// Otherwise the merged entry is sent back as an unmodified hit.
func (c *Context) mergeNotModified() {
	fresh := c.entry
	old := c.oldEntry

	if old.Mem != nil && old.Mem.Reply != nil && fresh.Mem != nil && fresh.Mem.Reply != nil {
		if old.Mem.Reply.Headers == nil {
			old.Mem.Reply.Headers = make(map[string][]string, len(fresh.Mem.Reply.Headers))
		}
		for k, v := range fresh.Mem.Reply.Headers {
			old.Mem.Reply.Headers[k] = v
		}
		if fresh.Mem.Reply.Status != 0 {
			old.Mem.Reply.StatusSet = true
		}
	}
	old.TimestampsSet()

	clientSatisfied := c.clientIMSSet && c.clientIMS != nil &&
		old.Mem != nil && old.Mem.Reply != nil &&
		!old.Mem.Reply.LastModified.After(*c.clientIMS)

	fresh.Unlock()
	c.restoreState()

	if clientSatisfied {
		c.finish(c.buildReplyHeader(Response{Status: 304, LogType: LogRefreshUnmodified}))
		return
	}

	c.sendEntry(LogRefreshUnmodified)
}
