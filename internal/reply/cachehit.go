package reply

import (
	"time"

	"github.com/cachegate/cachegate/internal/store"
)

// cacheHit is reached once the initial (or any subsequent) copy from the
// store completes. It classifies the result into one of: a miss (abort,
// empty read, canonical-URL mismatch, or a Vary CANCEL outcome), a fresh
// Vary re-lookup, a negative-hit send, a validation round trip, a
// conditional-request resolution, or a plain HIT.
func (c *Context) cacheHit(res store.CopyResult, buf []byte) {
	if res.Err != nil {
		c.processMiss()
		return
	}
	if res.Length > 0 {
		chunk := make([]byte, res.Length)
		copy(chunk, buf[:res.Length])
		c.pendingBody = append(c.pendingBody, chunk...)
	}
	if res.Length == 0 && c.entry.Mem != nil && c.entry.Mem.Reply == nil {
		// Nothing was ever written: treat as a miss rather than send an
		// empty body with no header.
		c.processMiss()
		return
	}
	if c.entry.URL != c.req.URL {
		// Canonical-URL mismatch: the entry was stored for another URL.
		c.processMiss()
		return
	}

	switch c.evaluateVary() {
	case VaryCancel:
		c.processMiss()
		return
	case VaryOther:
		c.identifyStoreObject()
		return
	}

	if c.req.Method == MethodPurge {
		c.startPurge()
		return
	}

	reply := c.entry.Mem.Reply

	if reply != nil && isNegativeCacheable(reply.Status) {
		c.sendEntry(c.logType)
		return
	}

	if c.needsValidation(reply) {
		if reply.LastModified.IsZero() {
			c.processMiss()
			return
		}
		if c.req.NoCache {
			c.logType = LogTCPClientRefreshMiss
			c.processMiss()
			return
		}
		c.processExpired()
		return
	}

	if c.isConditional() {
		c.processConditional()
		return
	}

	upgraded := c.logType
	if upgraded == LogTCPHit {
		if c.cfg.Offline {
			upgraded = LogOfflineHit
		} else {
			upgraded = LogMemHit
		}
	}
	c.sendEntry(upgraded)
}

// evaluateVary mirrors varyEvaluateMatch's three-way (plus cancel) outcome:
// NONE when the entry carries no Vary header, MATCH when the stored
// variance signature matches the request's, OTHER when it doesn't (caller
// should re-lookup under the request's own variant key), CANCEL when a
// second OTHER in a row would otherwise loop forever.
func (c *Context) evaluateVary() VaryResult {
	reply := c.entry.Mem.Reply
	if reply == nil || reply.Vary == "" {
		return VaryNone
	}
	if c.req.VaryData == "" {
		return VaryNone
	}
	if reply.Vary == c.req.VaryData {
		return VaryMatch
	}
	if c.req.Refresh {
		// Already retried once for Vary; a second mismatch would spin.
		return VaryCancel
	}
	return VaryOther
}

// isNegativeCacheable reports whether status is one of the small set of
// error responses Squid will cache and serve without revalidation.
func isNegativeCacheable(status int) bool {
	switch status {
	case 204, 305, 307, 400, 403, 404, 405, 410, 414, 500, 501, 502, 503, 504:
		return true
	}
	return false
}

// needsValidation reports whether the stored reply is stale enough that it
// must be revalidated with the origin before being served.
func (c *Context) needsValidation(reply *store.ReplyHeader) bool {
	if reply == nil || !reply.StatusSet {
		return false
	}
	return c.entry.Expires.Before(time.Now()) && !c.entry.Expires.IsZero()
}

// isConditional reports whether the inbound request itself carries
// conditional-request preconditions that must be evaluated against the
// stored entry rather than simply served.
func (c *Context) isConditional() bool {
	return len(c.req.IfMatch) > 0 || len(c.req.IfNoneMatch) > 0 || c.req.IfModifiedSince != nil
}

// sendEntry delivers the stored entry's header and body as the final
// response, tagged with logType. If the initial copy didn't reach the end
// of the object (a body larger than one read), it keeps issuing further
// copies until transferComplete is satisfied.
func (c *Context) sendEntry(logType LogType) {
	if !transferComplete(c.entry, c.sc.Offset(), false) {
		buf := make([]byte, 64*1024)
		c.sc.Copy(buf, func(res store.CopyResult) {
			if res.Err != nil {
				c.finishEntry(logType)
				return
			}
			if res.Length > 0 {
				chunk := make([]byte, res.Length)
				copy(chunk, buf[:res.Length])
				c.pendingBody = append(c.pendingBody, chunk...)
			}
			c.sendEntry(logType)
		})
		return
	}
	c.finishEntry(logType)
}

func (c *Context) finishEntry(logType LogType) {
	reply := c.entry.Mem.Reply
	resp := Response{LogType: logType, Body: c.pendingBody}
	if reply != nil {
		resp.Status = reply.Status
		resp.Headers = cloneHeaders(reply.Headers)
	}
	resp = c.buildReplyHeader(resp)
	c.finish(resp)
}

func cloneHeaders(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
