// Package store implements the shared object store entry and the
// store_client reader-half that streams bytes out of it: the cache entry a
// producer fills and any number of readers drain, transparently switching
// between an in-memory body and disk swap-in.
package store

import (
	"sync"
	"time"
)

// StoreStatus mirrors the StoreEntry.store_status lifecycle: an entry starts
// PENDING while a producer is still filling it and becomes OK once the
// producer has finished (successfully or not).
type StoreStatus int

const (
	StorePending StoreStatus = iota
	StoreOK
)

// SwapStatus tracks whether (and how) the entry is being written to disk.
type SwapStatus int

const (
	SwapNone SwapStatus = iota
	SwapWriting
	SwapDone
)

// MemStatus tracks whether the entry currently has an in-memory body.
type MemStatus int

const (
	NotInMemory MemStatus = iota
	InMemory
)

// Flags holds the entry's sticky and transient bit-flags.
type Flags struct {
	Aborted     bool // sticky once set
	Special     bool
	FwdHdrWait  bool
	KeyPrivate  bool
}

// ReplyHeader is the minimal parsed-reply surface the store and reply
// context need. Full HTTP header manipulation is out of scope (§1); this is
// the narrow shape store_client and the reply context actually touch.
type ReplyHeader struct {
	StatusSet    bool // distinguishes "no reply parsed yet" from status 0
	Status       int
	ContentLen   int64 // -1 if unknown
	HeaderSize   int64 // header byte length ("hdr_sz")
	LastModified time.Time
	ETag         string
	Vary         string
	Headers      map[string][]string
}

// MemObject is the live, in-memory portion of an entry: the reply header
// once parsed, the in-memory byte span [InMemLo, endOffset), and the list of
// attached readers a producer kicks via InvokeHandlers.
type MemObject struct {
	mu         sync.Mutex
	Reply      *ReplyHeader
	Method     string
	body       []byte // bytes [InMemLo, InMemLo+len(body))
	InMemLo    int64
	SwapHdrSz  int64 // 0 until the on-disk envelope has been parsed
	swapOut    *swapWriter
}

// EndOffset returns the offset one past the last byte currently resident in
// memory.
func (m *MemObject) EndOffset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InMemLo + int64(len(m.body))
}

// write appends bytes at the given body-relative offset, matching the
// original mem_obj->write(StoreIOBuffer) call from store_client::readBody's
// fill-back path. The write-complete callback is intentionally a no-op, as
// in the original.
func (m *MemObject) write(offset int64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := m.InMemLo + int64(len(m.body))
	if offset != end {
		return // only the contiguous fill-back case is supported
	}
	m.body = append(m.body, data...)
}

// copyInto copies up to len(buf) bytes starting at offset out of the
// in-memory body. Returns the number of bytes copied.
func (m *MemObject) copyInto(offset int64, buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel := offset - m.InMemLo
	if rel < 0 || rel >= int64(len(m.body)) {
		return 0
	}
	n := copy(buf, m.body[rel:])
	return n
}

// Entry is the shared cache object: a canonical key, status fields, an
// optional MemObject when a producer or reader is active, and the swap file
// identity once one exists. Lifetime is reference-counted via Lock/Unlock
// plus the attached client count, matching StoreEntry's locking model.
type Entry struct {
	mu sync.Mutex

	Key          string
	URL          string
	Method       string
	StoreStatus  StoreStatus
	SwapStatus   SwapStatus
	MemStatus    MemStatus
	Timestamp    time.Time
	LastModified time.Time
	Expires      time.Time
	Flags        Flags

	lockCount int
	Mem       *MemObject

	SwapFileID   string
	SwapFileSize int64 // total on-disk size, envelope included

	clients []*Client
}

// NewEntry constructs a fresh PENDING entry for key/url.
func NewEntry(key, url, method string) *Entry {
	return &Entry{
		Key:         key,
		URL:         url,
		Method:      method,
		StoreStatus: StorePending,
		Timestamp:   time.Now(),
	}
}

// Lock increments the reference count, keeping the entry alive across
// suspension points even though store_client only holds a non-owning
// reference to it.
func (e *Entry) Lock() {
	e.mu.Lock()
	e.lockCount++
	e.mu.Unlock()
}

// Unlock decrements the reference count.
func (e *Entry) Unlock() {
	e.mu.Lock()
	e.lockCount--
	e.mu.Unlock()
}

// LockCount reports the current reference count, for tests and diagnostics.
func (e *Entry) LockCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockCount
}

// EnsureMemObject creates a MemObject if one does not already exist,
// preserving the method of any prior request the entry was opened for (the
// "preserving any prior method" clause of doGetMoreData).
func (e *Entry) EnsureMemObject(method string) *MemObject {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Mem == nil {
		e.Mem = &MemObject{Method: e.Method}
		if e.Mem.Method == "" {
			e.Mem.Method = method
		}
	}
	e.MemStatus = InMemory
	return e.Mem
}

// ObjectLen returns the full object length once known (StoreOK and the
// length has been established), or -1 if it is not yet known.
func (e *Entry) ObjectLen() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StoreStatus != StoreOK {
		return -1
	}
	if e.Mem == nil || e.Mem.Reply == nil || e.Mem.Reply.ContentLen < 0 {
		return -1
	}
	return e.Mem.Reply.HeaderSize + e.Mem.Reply.ContentLen
}

// Abort marks the entry ABORTED. The flag is sticky: once set it is never
// cleared.
func (e *Entry) Abort() {
	e.mu.Lock()
	e.Flags.Aborted = true
	e.mu.Unlock()
	e.InvokeHandlers()
}

// Complete transitions the entry from PENDING to OK. Safe to call more than
// once.
func (e *Entry) Complete() {
	e.mu.Lock()
	e.StoreStatus = StoreOK
	e.mu.Unlock()
	e.InvokeHandlers()
}

// TimestampsSet stamps Timestamp to now, matching storeTimestampsSet, used
// after a 304 updates an existing entry's headers in place.
func (e *Entry) TimestampsSet() {
	e.mu.Lock()
	e.Timestamp = time.Now()
	e.mu.Unlock()
}

// Release detaches the entry from future lookups. In this in-memory model,
// releasing simply marks it aborted so that any stray readers see a clean
// end rather than hanging forever; a real disk-backed store would also
// unlink the swap file and remove it from the key index.
func (e *Entry) Release() {
	e.Abort()
}

// ReplaceHTTPReply installs a freshly parsed reply header and its declared
// content length, as the producer does once headers arrive.
func (e *Entry) ReplaceHTTPReply(reply *ReplyHeader) {
	e.mu.Lock()
	if e.Mem == nil {
		e.Mem = &MemObject{}
	}
	e.Mem.Reply = reply
	e.mu.Unlock()
}

// Append adds producer bytes to the in-memory body and kicks any readers
// awaiting more data.
func (e *Entry) Append(data []byte) {
	e.mu.Lock()
	mem := e.Mem
	e.mu.Unlock()
	if mem == nil {
		return
	}
	mem.mu.Lock()
	mem.body = append(mem.body, data...)
	mem.mu.Unlock()
	e.InvokeHandlers()
}

// attach registers c as a reader of this entry.
func (e *Entry) attach(c *Client) {
	e.mu.Lock()
	e.clients = append(e.clients, c)
	e.mu.Unlock()
}

// detach removes c from the entry's client list and reports the remaining
// attached-client count, used by quick-abort decisions.
func (e *Entry) detach(c *Client) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.clients[:0]
	for _, x := range e.clients {
		if x != c {
			out = append(out, x)
		}
	}
	e.clients = out
	return len(e.clients)
}

// InvokeHandlers re-drives every attached client that has a pending callback
// and no disk I/O in flight, as the producer does on every append.
func (e *Entry) InvokeHandlers() {
	e.mu.Lock()
	clients := make([]*Client, len(e.clients))
	copy(clients, e.clients)
	e.mu.Unlock()
	for _, c := range clients {
		c.kick(e)
	}
}

// fwdHdrWait reports whether the entry is waiting on forwarding headers.
func (e *Entry) fwdHdrWait() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Flags.FwdHdrWait
}

// storeStatus and endOffset read entry state under the lock, used by Client
// from a different goroutine-free call path (single-threaded async model).
func (e *Entry) storeStatus() StoreStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StoreStatus
}
