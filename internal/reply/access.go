package reply

// processReplyAccess is the external reply-access checklist: given the
// candidate response, it may deny the reply outright (synthesizing an
// error page in its place) independent of anything the store/forwarding
// path decided. It also enforces the oversize-body limit here rather than
// leaving it to the access checker, since ERR_TOO_BIG is this port's own
// hardcoded policy rather than a delegated decision.
func (c *Context) processReplyAccess(resp Response) Response {
	if c.cfg.ReplyBodyMaxSize > 0 && int64(len(resp.Body)) > c.cfg.ReplyBodyMaxSize {
		return Response{Status: 403, LogType: resp.LogType, Body: []byte("ERR_TOO_BIG")}
	}
	if c.access != nil && !c.access(&resp) {
		return Response{Status: 403, LogType: resp.LogType, Body: []byte("ERR_ACCESS_DENIED")}
	}
	return resp
}
