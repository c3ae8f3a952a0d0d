package reply

// processConditional evaluates If-Match/If-None-Match/If-Modified-Since
// against the stored entry's current (fresh) representation, following
// clientReplyContext::processConditional's decision tree. It is only
// reached once the entry is known fresh (processExpired already handled
// staleness), so every branch here concerns precondition evaluation, not
// revalidation.
func (c *Context) processConditional() {
	reply := c.entry.Mem.Reply
	if reply == nil || !reply.StatusSet || reply.Status != 200 {
		// Preconditions only apply to a stored success; anything else is
		// treated as if the client had asked for it unconditionally.
		c.processMiss()
		return
	}

	etag := reply.ETag

	if len(c.req.IfMatch) > 0 && !etagListMatches(c.req.IfMatch, etag) {
		c.finish(c.buildReplyHeader(Response{Status: 412, LogType: LogTCPHit}))
		return
	}

	if len(c.req.IfNoneMatch) > 0 {
		if !etagListMatches(c.req.IfNoneMatch, etag) {
			// Precondition failed to match: the clause evaluates false, so
			// the stored representation should simply be sent — any
			// If-Modified-Since alongside it is now moot.
			c.req.IfModifiedSince = nil
			c.sendEntry(LogTCPHit)
			return
		}
		// Matched: for GET/HEAD this is a 304, for anything else a 412.
		if c.req.Method == MethodGET || c.req.Method == MethodHEAD {
			if c.req.IfModifiedSince == nil {
				c.finish(c.buildReplyHeader(Response{Status: 304, LogType: LogIMSHit}))
				return
			}
			// Fall through to the combined IMS decision below.
		} else {
			c.finish(c.buildReplyHeader(Response{Status: 412, LogType: LogTCPHit}))
			return
		}
	}

	if c.req.IfModifiedSince != nil {
		if reply.LastModified.After(*c.req.IfModifiedSince) {
			c.sendEntry(LogIMSHit)
			return
		}
		c.finish(c.buildReplyHeader(Response{Status: 304, LogType: LogIMSHit}))
		return
	}

	c.sendEntry(LogTCPHit)
}

func etagListMatches(candidates []string, etag string) bool {
	for _, c := range candidates {
		if c == "*" || c == etag {
			return true
		}
	}
	return false
}
