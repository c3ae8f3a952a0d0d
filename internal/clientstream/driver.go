// Package clientstream is the thin driver standing in for
// ClientHttpRequest/clientStreamNode: it owns the call queue every reply
// context, store_client and forwarding starter is dispatched through, keeps
// the in-memory keyed store reply contexts look entries up against, and
// wires each incoming request to a fresh reply.Context before handing the
// finished response back to its caller.
package clientstream

import (
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cachegate/cachegate/internal/acl"
	"github.com/cachegate/cachegate/internal/async"
	"github.com/cachegate/cachegate/internal/forward"
	"github.com/cachegate/cachegate/internal/reply"
	"github.com/cachegate/cachegate/internal/resolver"
	"github.com/cachegate/cachegate/internal/store"
)

// Config carries the reply-shaping configuration plus the driver's own
// pump-loop tunable.
type Config struct {
	Reply   reply.Config
	Forward forward.Config

	// IdlePoll bounds how long the pump loop sleeps between Fire attempts
	// when the queue is empty, so a goroutine (the forwarding starter, a
	// disk read) appending work is picked up promptly without busy-spinning.
	IdlePoll time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Reply:    reply.Config{HostName: "cachegate"},
		Forward:  forward.DefaultConfig(),
		IdlePoll: 2 * time.Millisecond,
	}
}

// Driver is the single top-level pipeline: one call queue, one keyed store,
// one forwarding starter, one denylist, shared across every request it
// serves.
type Driver struct {
	cfg   Config
	queue *async.Queue
	fwd   *forward.Starter
	deny  *acl.List
	log   *slog.Logger

	mu      sync.Mutex
	entries map[string]*store.Entry

	hits   atomic.Int64
	misses atomic.Int64

	stop chan struct{}
	done chan struct{}
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Entries   int
	StoreSize int64 // sum of SwapFileSize across all currently tracked entries
}

// Stats returns the driver's current hit/miss counters and store occupancy.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	var size int64
	for _, e := range d.entries {
		size += e.SwapFileSize
	}
	return Stats{
		Hits:      d.hits.Load(),
		Misses:    d.misses.Load(),
		Entries:   len(d.entries),
		StoreSize: size,
	}
}

// Snapshot returns a copy of the map of currently tracked entries, keyed the
// same way the driver's internal lookup table is. The *store.Entry values
// are shared with the driver, not copied.
func (d *Driver) Snapshot() map[string]*store.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*store.Entry, len(d.entries))
	for k, v := range d.entries {
		out[k] = v
	}
	return out
}

func (d *Driver) recordOutcome(logType reply.LogType) {
	switch logType {
	case reply.LogTCPHit, reply.LogMemHit, reply.LogOfflineHit, reply.LogIMSHit,
		reply.LogRefreshUnmodified:
		d.hits.Add(1)
	default:
		d.misses.Add(1)
	}
}

// New constructs a Driver. deny may be nil, in which case every host is
// allowed. res may be nil, in which case origin hostnames resolve through
// the platform resolver; when supplied, its Start must already have been
// called (and its Close is the caller's to run at shutdown, alongside
// Driver.Close).
func New(cfg Config, deny *acl.List, res *resolver.Resolver, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 2 * time.Millisecond
	}
	queue := async.NewQueue()
	return &Driver{
		cfg:     cfg,
		queue:   queue,
		fwd:     forward.New(cfg.Forward, res, log),
		deny:    deny,
		log:     log,
		entries: make(map[string]*store.Entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the pump goroutine that drains the call queue. Every
// reply.Context, store.Client and forwarding starter callback this driver
// hands out ultimately runs here, never concurrently with another.
func (d *Driver) Start() {
	go d.pump()
}

// Close stops the pump goroutine and waits for it to exit.
func (d *Driver) Close() error {
	close(d.stop)
	<-d.done
	return nil
}

func (d *Driver) pump() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		if !d.queue.Fire() {
			time.Sleep(d.cfg.IdlePoll)
		}
	}
}

// Handle serves req end to end, delivering the response to cb exactly once.
// cb runs on the pump goroutine; callers that need to hop back onto their
// own goroutine (an HTTP handler blocked on a channel, say) must do so
// themselves.
func (d *Driver) Handle(req reply.Request, cb func(reply.Response)) {
	access := d.accessChecker(req)
	ctx := reply.NewContext(d.queue, d.cfg.Reply, req, d.lookup, d.trackAndForward, access)

	wrapped := func(resp reply.Response) {
		if req.Method != reply.MethodPurge {
			d.recordOutcome(resp.LogType)
		}
		cb(resp)
	}

	d.queue.Schedule(async.Call{
		Name: "clientstream::start",
		Fire: func() { ctx.Start(wrapped) },
	})
}

// trackAndForward registers the freshly created entry under the same key an
// ordinary lookup will later address it by, then hands off to the real
// forwarding starter. processMiss has no other way to publish the entry it
// just created back into the driver's keyed store.
func (d *Driver) trackAndForward(req reply.Request, entry *store.Entry) {
	d.Put(reply.StoreKey(req.URL, req.Method), entry)
	d.fwd.Forward(req, entry)
}

// accessChecker captures the request's host at construction time, since
// reply.AccessChecker itself only sees the candidate response: a denylist
// hit is a property of where the request was going, not of what came back.
func (d *Driver) accessChecker(req reply.Request) reply.AccessChecker {
	if d.deny == nil {
		return nil
	}
	host := requestHost(req.URL)
	return func(resp *reply.Response) bool {
		return d.deny.Allowed(host)
	}
}

func requestHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// lookup satisfies reply.StoreLookup against the driver's keyed store.
func (d *Driver) lookup(key string) (*store.Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	return e, ok
}

// Put registers entry under key, making it visible to future lookups (both
// ordinary hits and PURGE sweeps address the same keyspace). trackAndForward
// calls this for every entry a miss creates; tests and warm-cache seeding
// may also call it directly.
func (d *Driver) Put(key string, entry *store.Entry) {
	d.mu.Lock()
	d.entries[key] = entry
	d.mu.Unlock()
}

// Forget removes key from the store, e.g. once an entry's reference count
// drops to zero after release.
func (d *Driver) Forget(key string) {
	d.mu.Lock()
	delete(d.entries, key)
	d.mu.Unlock()
}
