// Package resolver implements the internal recursive/stub DNS resolver:
// query deduplication, exponential-backoff retransmission across a pool of
// nameservers, search-path expansion, and parallel A/AAAA lookups merged
// into one answer set. It is the Go analogue of dns_internal.cc's
// idnsALookup/idnsCheckQueue/idnsGrokReply pipeline, dispatched entirely
// through an async.Queue rather than libevent callbacks.
package resolver

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cachegate/cachegate/internal/async"
	"github.com/cachegate/cachegate/internal/dns"
)

// MaxAttempt caps the total number of sends of one query: a SERVFAIL reply
// is resent only while the query has been sent fewer than MaxAttempt times,
// after which the callback is finalized with that error (MAX_ATTEMPT).
const MaxAttempt = 3

// Config holds the resolver's tunables, named after the recognized options
// in the external configuration surface (dns_nameservers, idns_query,
// idns_retransmit, res_defnames, ndots, dns.v4_first, ...).
type Config struct {
	Nameservers               []string
	IPv6Enabled               bool
	IgnoreUnknownNameservers  bool
	QueryTimeout              time.Duration // idns_query
	RetransmitInterval        time.Duration // idns_retransmit
	SearchPathEnabled         bool          // res_defnames
	SearchPath                []string
	NDots                     int
	PacketMax                 int
	V4First                   bool
}

// DefaultConfig returns sane defaults matching the original source's
// compiled-in constants.
func DefaultConfig() Config {
	return Config{
		Nameservers:        []string{"127.0.0.1"},
		QueryTimeout:       30 * time.Second,
		RetransmitInterval: 2 * time.Second,
		NDots:              1,
		PacketMax:          dns.MaxIncomingDNSMessageSize,
		V4First:            true,
	}
}

// Resolver is the top-level stub resolver: one UDP socket, a lazily opened
// TCP virtual circuit per nameserver, an LRU of outstanding queries for
// retransmit scanning, and a name-keyed hash for singleflight deduplication.
type Resolver struct {
	cfg   Config
	queue *async.Queue
	log   *slog.Logger

	conn   *net.UDPConn
	nsIdx  uint64 // round-robin cursor into cfg.Nameservers, advanced by nsends

	mu       sync.Mutex
	lru      *list.List          // *query nodes, most-recently-sent at the back
	inFlight map[string]*query   // normalized name -> master query
	byID     map[uint16]*query   // wire query id -> query, for matching replies
	vcs      map[string]*virtualCircuit

	retransmitTimer *time.Timer
	closed          bool
}

// New constructs a Resolver bound to queue for callback dispatch. Start
// must be called before any lookups are issued.
func New(cfg Config, queue *async.Queue, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.Nameservers) == 0 {
		cfg.Nameservers = []string{"127.0.0.1"}
	}
	return &Resolver{
		cfg:      cfg,
		queue:    queue,
		log:      log,
		lru:      list.New(),
		inFlight: make(map[string]*query),
		byID:     make(map[uint16]*query),
		vcs:      make(map[string]*virtualCircuit),
	}
}

// Start opens the UDP socket and launches the receive loop. The receive
// loop runs on its own goroutine, as does each TCP virtual circuit's read
// loop (socket reads are the blocking syscalls), but every received
// datagram or frame is handed back onto the async queue, so replies are
// only ever processed from queue calls.
func (r *Resolver) Start() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("resolver: open UDP socket: %w", err)
	}
	r.conn = conn
	go r.readLoop()
	r.armRetransmitTimer()
	return nil
}

// Close releases the UDP socket and any open virtual circuits.
func (r *Resolver) Close() error {
	r.mu.Lock()
	r.closed = true
	if r.retransmitTimer != nil {
		r.retransmitTimer.Stop()
	}
	for _, vc := range r.vcs {
		vc.close()
	}
	r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *Resolver) nextNameserver() string {
	i := r.nsIdx
	r.nsIdx++
	return r.cfg.Nameservers[i%uint64(len(r.cfg.Nameservers))]
}

// normalize lowercases and strips a single trailing dot, the same
// normalization ParseQuestion applies on the wire.
func normalize(name string) string {
	name = strings.ToLower(name)
	return strings.TrimSuffix(name, ".")
}

// ALookup resolves name to its A (and, when IPv6 is enabled, AAAA) records.
// Concurrent identical lookups are coalesced: exactly one wire query is
// sent and every caller's callback sees the same merged result.
func (r *Resolver) ALookup(name string, cb Callback) {
	key := normalize(name)

	r.mu.Lock()
	if existing, ok := r.inFlight[key]; ok {
		existing.waiters = append(existing.waiters, cb)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	q := &query{orig: key, qtype: uint16(dns.TypeA)}
	q.name = r.applySearchPath(q, 0)
	r.registerMaster(key, q)
	r.sendAndArm(q, cb)
}

// PtrLookup resolves a reverse lookup for addr, building an in-addr.arpa or
// ip6.arpa question, then sharing ALookup's pipeline.
func (r *Resolver) PtrLookup(addr net.IP, cb Callback) {
	name, err := reverseName(addr)
	if err != nil {
		cb(nil, err)
		return
	}
	key := normalize(name)

	r.mu.Lock()
	if existing, ok := r.inFlight[key]; ok {
		existing.waiters = append(existing.waiters, cb)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	q := &query{orig: key, name: key, qtype: uint16(dns.TypePTR)}
	r.registerMaster(key, q)
	r.sendAndArm(q, cb)
}

// reverseName builds the in-addr.arpa (IPv4) or ip6.arpa (IPv6) question
// name for addr, matching idnsPTRLookup.
func reverseName(addr net.IP) (string, error) {
	if v4 := addr.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa", v4[3], v4[2], v4[1], v4[0]), nil
	}
	v6 := addr.To16()
	if v6 == nil {
		return "", errors.New("resolver: invalid IP address for PTR lookup")
	}
	var b strings.Builder
	for i := len(v6) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%x.%x.", v6[i]&0xf, v6[i]>>4)
	}
	b.WriteString("ip6.arpa")
	return b.String(), nil
}

// applySearchPath appends the n-th search domain to q.orig if search-path
// expansion is enabled and the name doesn't already qualify, matching the
// res_defnames/ndots rule.
func (r *Resolver) applySearchPath(q *query, n int) string {
	if !r.cfg.SearchPathEnabled || n >= len(r.cfg.SearchPath) {
		return q.orig
	}
	if strings.HasSuffix(q.orig, ".") {
		return q.orig
	}
	if strings.Count(q.orig, ".") >= r.cfg.NDots {
		return q.orig
	}
	return q.orig + "." + r.cfg.SearchPath[n]
}

// registerMaster inserts q into the in-flight hash and LRU, and — for A
// lookups with IPv6 enabled — spawns a slave AAAA query sharing q's start
// time.
func (r *Resolver) registerMaster(key string, q *query) {
	r.mu.Lock()
	q.elem = r.lru.PushBack(q)
	r.inFlight[key] = q
	r.mu.Unlock()

	if q.qtype == uint16(dns.TypeA) && r.cfg.IPv6Enabled {
		slave := &query{orig: q.orig, name: q.name, qtype: uint16(dns.TypeAAAA), master: q}
		q.slave = slave
		r.mu.Lock()
		slave.elem = r.lru.PushBack(slave)
		r.mu.Unlock()
		r.send(slave)
	}
}

func (r *Resolver) sendAndArm(q *query, cb Callback) {
	r.send(q)
	// The waiter list always contains the original caller too, so
	// idnsCallback's "head callback then waiter queue" just becomes
	// "every waiter in order" once q.waiters holds everyone.
	q.waiters = append(q.waiters, cb)
}

// send assigns (or re-assigns, on a regenerate-after-NXDOMAIN) a query id
// and writes the question to the next nameserver in rotation.
func (r *Resolver) send(q *query) {
	r.mu.Lock()
	id, ok := allocateQueryID(r.lru)
	if ok {
		if q.id != 0 {
			delete(r.byID, q.id)
		}
		q.id = id
		r.byID[id] = q
		if q.elem != nil {
			r.lru.MoveToBack(q.elem)
		}
	}
	r.mu.Unlock()
	if !ok {
		r.log.Warn("resolver: query id space exhausted, in-flight table is full")
		r.finalize(q, errors.New("too many pending DNS queries"))
		return
	}

	packet := dns.Packet{
		Header: dns.Header{ID: id, Flags: dns.RDFlag},
		Questions: []dns.Question{
			{Name: q.name, Type: q.qtype, Class: uint16(dns.ClassIN)},
		},
	}
	wire, err := packet.Marshal()
	if err != nil {
		r.finalize(q, fmt.Errorf("resolver: build query: %w", err))
		return
	}

	ns := r.nextNameserver()
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ns, "53"))
	if err != nil {
		r.finalize(q, fmt.Errorf("resolver: resolve nameserver: %w", err))
		return
	}

	now := time.Now()
	if q.nsends == 0 {
		q.firstSendTime = now
	}
	q.lastSendTime = now
	q.lastNS = ns
	q.nsends++

	if _, err := r.conn.WriteToUDP(wire, addr); err != nil {
		r.log.Warn("resolver: send failed", "nameserver", ns, "error", err)
	}
}
