package reply

import (
	"time"

	"github.com/cachegate/cachegate/internal/async"
	"github.com/cachegate/cachegate/internal/store"
)

// Context is the reply context: one per client request, carrying the
// request, the store entry it eventually settles on (if any), and the
// store_client reading it. It embeds async.Base so it can be dispatched
// through the same call queue as every other job.
type Context struct {
	base async.Base

	cfg   Config
	queue *async.Queue

	lookup  StoreLookup
	forward Forwarder
	access  AccessChecker

	req   Request
	entry *store.Entry
	sc    *store.Client

	// saveState/restoreState slots used by processExpired.
	oldEntry *store.Entry
	oldSC    *store.Client

	// clientIMS holds the client's own If-Modified-Since, captured before
	// processExpired overwrites c.req.IfModifiedSince with the stale
	// entry's Last-Modified for the outgoing revalidation request.
	clientIMS    *time.Time
	clientIMSSet bool

	logType     LogType
	done        bool
	pendingBody []byte // bytes already copied out of the entry for this turn

	deliver func(Response) // called exactly once with the final response
}

func (c *Context) Base() *async.Base { return &c.base }
func (c *Context) DoneAll() bool     { return c.done }
func (c *Context) SwanSong()         {}

// NewContext constructs a reply context for req, dispatched through queue.
func NewContext(queue *async.Queue, cfg Config, req Request, lookup StoreLookup, fwd Forwarder, access AccessChecker) *Context {
	return &Context{
		base:    async.NewBase("replyContext"),
		cfg:     cfg,
		queue:   queue,
		lookup:  lookup,
		forward: fwd,
		access:  access,
		req:     req,
	}
}

// Start is the external driver's entry point: a PURGE action, an immediate
// TRACE reply when Max-Forwards is 0, or identifyStoreObject.
func (c *Context) Start(deliver func(Response)) {
	c.deliver = deliver

	if c.req.Method == MethodTrace && c.req.MaxForwards != nil && *c.req.MaxForwards == 0 {
		c.sendTraceReply()
		return
	}
	if c.req.Method == MethodPurge {
		c.startPurge()
		return
	}
	c.identifyStoreObject()
}

func (c *Context) sendTraceReply() {
	c.finish(Response{Status: 200, Headers: tracePayloadHeaders(), Body: []byte("TRACE")})
}

func tracePayloadHeaders() map[string][]string {
	return map[string][]string{"Content-Type": {"message/http"}}
}

// identifyStoreObject performs the public-key lookup against the store,
// then applies identifyFoundObject's classification table.
func (c *Context) identifyStoreObject() {
	entry, found := c.lookup(storeKey(c.req.URL, c.req.Method))
	if !found {
		entry = nil
	}
	c.identifyFoundObject(entry)
}

// identifyFoundObject applies the classification table in order; the first
// matching row wins. Exactly one of the seven outcomes is reached and
// doGetMoreData is called exactly once.
func (c *Context) identifyFoundObject(entry *store.Entry) {
	switch {
	case entry == nil:
		c.logType = LogTCPMiss
	case c.cfg.Offline:
		c.logType = LogOfflineHit
	case entry.Flags.Special && isRedirectPreset(entry):
		c.logType = LogTCPRedirect
		entry = nil
	case !validToSend(entry):
		c.logType = LogTCPMiss
		entry = nil
	case entry.Flags.Special:
		c.logType = LogTCPHit
	case c.req.NoCache:
		c.logType = LogTCPClientRefreshMiss
		entry = nil
	default:
		c.logType = LogTCPHit
	}
	c.entry = entry
	c.doGetMoreData()
}

// isRedirectPreset reports whether entry already carries a redirect status
// set by an earlier stage (e.g. URL rewriting) — a narrow predicate since
// redirect synthesis itself is out of scope here.
func isRedirectPreset(entry *store.Entry) bool {
	return entry.Mem != nil && entry.Mem.Reply != nil &&
		entry.Mem.Reply.Status >= 300 && entry.Mem.Reply.Status < 400 && entry.Mem.Reply.StatusSet
}

// validToSend mirrors the external validToSend predicate: an aborted or
// key-private entry is never servable to a second requester.
func validToSend(entry *store.Entry) bool {
	return !entry.Flags.Aborted && !entry.Flags.KeyPrivate
}

// doGetMoreData locks the entry (if any), ensures a MemObject, attaches a
// store_client, and issues the initial copy; absent an entry, it routes to
// processMiss.
func (c *Context) doGetMoreData() {
	if c.entry == nil {
		c.processMiss()
		return
	}
	c.entry.Lock()
	c.entry.EnsureMemObject(string(c.req.Method))
	c.sc = store.NewClient(c.queue, c.entry)

	buf := make([]byte, 64*1024)
	c.sc.Copy(buf, func(res store.CopyResult) {
		c.cacheHit(res, buf)
	})
}

// processMiss is reached whenever no usable entry exists: only-if-cached
// requests are refused with a 504, otherwise the request is forwarded and
// the entry it creates is tracked from scratch.
func (c *Context) processMiss() {
	if c.req.OnlyIfCached {
		c.finish(Response{Status: 504, LogType: LogTCPMiss})
		return
	}

	key := storeKey(c.req.URL, c.req.Method)
	c.entry = store.NewEntry(key, c.req.URL, string(c.req.Method))
	c.entry.Lock()
	c.entry.EnsureMemObject(string(c.req.Method))
	c.sc = store.NewClient(c.queue, c.entry)

	if c.forward != nil {
		c.forward(c.req, c.entry)
	}

	buf := make([]byte, 64*1024)
	c.sc.Copy(buf, func(res store.CopyResult) {
		c.cacheHit(res, buf)
	})
}

// finish delivers the final response exactly once and retires the context.
func (c *Context) finish(resp Response) {
	if c.done {
		return
	}
	c.done = true
	if resp.LogType == "" {
		resp.LogType = c.logType
	}
	resp = c.processReplyAccess(resp)
	if c.deliver != nil {
		c.deliver(resp)
	}
}
