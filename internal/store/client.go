package store

import (
	"github.com/cachegate/cachegate/internal/async"
)

// CopyResult is delivered to a Client's callback at the end of every copy
// step: either some bytes, EOF (Length==0, Err==nil), or an error.
type CopyResult struct {
	Length int
	Err    error
}

// maxInMemObjSize bounds how large an object may grow and still qualify for
// the disk-read fill-back into memory (readBody's inmem_lo==0 && len<=max
// check). An unexported package var that nothing outside this package sets;
// default chosen to match the teacher's modest default body sizes.
var maxInMemObjSize int64 = 4 * 1024 * 1024

// Client is the reader half of an entry: one store_client per attached
// consumer (a clientStreamNode, a resolver cache hit reader, or a purge
// sweep), each independently tracking its own read offset.
type Client struct {
	base async.Base

	entry  *Entry
	queue  *async.Queue
	offset int64

	copying     bool // copy_event_pending equivalent: a step is already scheduled
	diskPending  bool // disk_io_pending: a scheduleDiskRead is in flight
	unpacked    bool // header envelope already parsed for this client

	buf      []byte
	callback func(CopyResult)
}

func (c *Client) Base() *async.Base { return &c.base }
func (c *Client) DoneAll() bool     { return c.base.DoneAll() }
func (c *Client) SwanSong()         {}

// Offset reports the client's current read position, for callers (the
// reply context's transfer-completion check) that need to know how much
// of the entry this client has consumed so far.
func (c *Client) Offset() int64 { return c.offset }

// NewClient attaches a new reader to e, starting at offset 0.
func NewClient(queue *async.Queue, e *Entry) *Client {
	c := &Client{
		base:  async.NewBase("storeClient"),
		entry: e,
		queue: queue,
	}
	e.attach(c)
	return c
}

// Detach removes this client from its entry's handler list, applying the
// quick-abort decision described in quickabort.go if this was the last
// reader of a still-pending entry.
func (c *Client) Detach() {
	remaining := c.entry.detach(c)
	if remaining == 0 {
		MaybeQuickAbort(c.entry)
	}
}

// Copy requests up to len(buf) bytes starting at the client's current
// offset, scheduling the (possibly deferred) copy step through the queue and
// invoking cb exactly once with the result. Matches storeClientCopy2's
// public entry point, store_client::copy.
func (c *Client) Copy(buf []byte, cb func(CopyResult)) {
	if c.copying {
		// Re-entrant copy before the prior one completed: cancelled, as the
		// original rejects overlapping copy requests outright.
		cb(CopyResult{Err: ErrReentrantCopy})
		return
	}
	c.copying = true
	c.buf = buf
	c.callback = cb

	h := async.Self(c)
	async.CallJob(c.queue, h, "storeClient::copyStep", func(cl *Client) {
		cl.copyStep()
	})
}

// ErrReentrantCopy is returned when Copy is called again before the
// in-flight copy's callback has fired.
var ErrReentrantCopy = copyErr("store: overlapping copy request")

type copyErr string

func (e copyErr) Error() string { return string(e) }

// copyStep is storeClientCopy2/store_client::doCopy collapsed into one
// state machine step: it decides, given the entry's current status and this
// client's offset, whether to deliver bytes now, wait for more to arrive, or
// kick off a disk read.
func (c *Client) copyStep() {
	e := c.entry

	if e.fwdHdrWait() {
		// Headers haven't been parsed from the producer side yet
		// (collapsed forwarding). Return without finishing; InvokeHandlers
		// re-kicks us once the wait clears.
		c.copying = false
		return
	}

	if e.Flags.Aborted {
		c.finish(CopyResult{Err: ErrObjectAborted})
		return
	}

	mem := e.Mem
	if mem == nil {
		c.finish(CopyResult{Err: ErrObjectAborted})
		return
	}

	// noMoreToSend: entry finished and our offset is at or past the known
	// object length.
	if e.storeStatus() == StoreOK {
		if n := e.ObjectLen(); n >= 0 && c.offset >= n {
			c.finish(CopyResult{})
			return
		}
	}

	// PENDING with our offset beyond what has arrived yet: wait for
	// InvokeHandlers to re-drive us, exactly as doCopy's endOffset check.
	if c.offset >= mem.EndOffset() {
		if e.storeStatus() == StorePending {
			c.copying = false // re-armed; InvokeHandlers will call us again
			return
		}
		// StoreOK but we don't know the length and we're past what's in
		// memory: nothing more will ever arrive.
		c.finish(CopyResult{})
		return
	}

	if c.offset < mem.InMemLo {
		// Memory has been trimmed below our offset: only disk can serve us.
		if e.SwapStatus == SwapDone {
			c.scheduleDiskRead()
			return
		}
		c.finish(CopyResult{Err: ErrObjectAborted})
		return
	}

	n := mem.copyInto(c.offset, c.buf)
	c.offset += int64(n)
	c.finish(CopyResult{Length: n})
}

// scheduleDiskRead performs a synchronous-looking disk read dispatched back
// through the job queue as its own call, so a slow disk never blocks other
// scheduled work ahead of it. Mirrors scheduleDiskRead/fileRead.
func (c *Client) scheduleDiskRead() {
	c.diskPending = true
	h := async.Self(c)
	async.CallJob(c.queue, h, "storeClient::fileRead", func(cl *Client) {
		cl.fileRead()
	})
}

func (c *Client) fileRead() {
	c.diskPending = false
	e := c.entry

	diskBuf := diskBufPool.Get()
	defer diskBufPool.Put(diskBuf)

	if !c.unpacked {
		// Header not parsed yet: read from the start of the file. Any body
		// bytes trailing the envelope in this same buffer are delivered
		// without a second disk read.
		n, err := diskReadAt(e.SwapFileID, 0, diskBuf)
		if err != nil {
			c.finish(CopyResult{Err: err})
			return
		}
		env, hdrSize, err := DecodeEnvelope(diskBuf[:n])
		if err != nil || !env.Consistent(e) {
			c.finish(CopyResult{Err: ErrObjectAborted})
			return
		}
		c.unpacked = true
		e.Mem.SwapHdrSz = int64(hdrSize)

		body := diskBuf[hdrSize:n]
		want := len(c.buf)
		if want > len(body) {
			want = len(body)
		}
		copy(c.buf, body[:want])
		c.deliverBody(want, body[:want])
		return
	}

	absOffset := c.offset + e.Mem.SwapHdrSz
	readLen := len(c.buf)
	if readLen > len(diskBuf) {
		readLen = len(diskBuf)
	}
	n, err := diskReadAt(e.SwapFileID, absOffset, diskBuf[:readLen])
	if err != nil {
		c.finish(CopyResult{Err: err})
		return
	}
	copy(c.buf, diskBuf[:n])
	c.deliverBody(n, diskBuf[:n])
}

// deliverBody advances the client's offset by n, fills the body back into
// memory when the object qualifies, and finishes the pending copy.
func (c *Client) deliverBody(n int, body []byte) {
	e := c.entry
	startOffset := c.offset
	c.offset += int64(n)

	if e.Mem.InMemLo == 0 {
		if ln := e.ObjectLen(); ln >= 0 && ln <= maxInMemObjSize {
			e.Mem.write(startOffset, body)
		}
	}

	c.finish(CopyResult{Length: n})
}

func (c *Client) finish(res CopyResult) {
	c.copying = false
	cb := c.callback
	c.callback = nil
	if cb != nil {
		cb(res)
	}
}

// kick is called by Entry.InvokeHandlers whenever new bytes or a status
// change might let a waiting client make progress. It only re-enters
// copyStep when a copy was armed-and-waiting, not mid-flight or idle.
func (c *Client) kick(e *Entry) {
	if c.copying || c.diskPending {
		return
	}
	if c.callback == nil {
		return
	}
	c.copying = true
	h := async.Self(c)
	async.CallJob(c.queue, h, "storeClient::copyStep", func(cl *Client) {
		cl.copyStep()
	})
}

// ErrObjectAborted is delivered to a reader whose entry was aborted, or
// whose memory backing has been discarded out from under it with no disk
// copy to fall back on.
var ErrObjectAborted = copyErr("store: object aborted")
