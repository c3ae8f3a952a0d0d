package resolver

import (
	"errors"
	"net"

	"github.com/cachegate/cachegate/internal/async"
	"github.com/cachegate/cachegate/internal/dns"
)

// readLoop drains the UDP socket, handing each datagram to the queue as its
// own call so grokReply only ever runs serialized with every other
// resolver operation. Matches idnsRead's drain-then-dispatch shape, minus
// the bounded per-wakeup iteration count (Go's netpoller already returns
// control between reads).
func (r *Resolver) readLoop() {
	buf := make([]byte, dns.MaxIncomingDNSMessageSize)
	h := selfHandle(r)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		fromAddr := from.IP

		r.queue.Schedule(async.Call{
			Name: "resolver::grokReply",
			Fire: func() {
				res, ok := h.Get()
				if !ok {
					return
				}
				res.grokReply(msg, fromAddr)
			},
		})
	}
}

// selfHandle is a package-local helper so readLoop doesn't need Resolver to
// implement the full async.Job interface just to get a weak handle; the
// resolver's lifetime is tied to Close(), not to a job's done/swanSong
// cycle, so a bare validity cell is enough.
func selfHandle(r *Resolver) resolverSelf {
	return resolverSelf{r: r}
}

type resolverSelf struct {
	r *Resolver
}

func (h resolverSelf) Get() (*Resolver, bool) {
	h.r.mu.Lock()
	closed := h.r.closed
	h.r.mu.Unlock()
	if closed {
		return nil, false
	}
	return h.r, true
}

// grokReply parses an incoming datagram and advances the matching query's
// state machine, mirroring idnsGrokReply.
func (r *Resolver) grokReply(msg []byte, from net.IP) {
	if r.cfg.IgnoreUnknownNameservers && !r.fromKnownNameserver(from) {
		return
	}

	packet, err := dns.ParsePacket(msg)
	if err != nil {
		return // unparseable: silently dropped, as idnsRead does
	}

	r.mu.Lock()
	q, ok := r.byID[packet.Header.ID]
	r.mu.Unlock()
	if !ok {
		return // no matching in-flight query: stale or spoofed reply
	}

	if !questionMatches(q, packet) {
		return // anti-spoofing: question section must echo the query
	}

	if packet.Header.Flags&dns.TCFlag != 0 {
		r.handleTruncation(q)
		return
	}

	rcode := dns.RCodeFromFlags(packet.Header.Flags)
	q.rcode = rcode

	switch rcode {
	case dns.RCodeNoError:
		q.answers = collectAnswers(packet, q.qtype)
		r.completeQuery(q, nil)
	case dns.RCodeServFail:
		if q.nsends < MaxAttempt {
			r.send(q)
			return
		}
		r.completeQuery(q, rcodeError(rcode))
	case dns.RCodeNXDomain:
		if r.retryNextSearchDomain(q) {
			return
		}
		r.completeQuery(q, rcodeError(rcode))
	default:
		r.completeQuery(q, rcodeError(rcode))
	}
}

func questionMatches(q *query, packet dns.Packet) bool {
	if len(packet.Questions) != 1 {
		return false
	}
	got := packet.Questions[0]
	return normalize(got.Name) == normalize(q.name) && got.Type == q.qtype
}

func collectAnswers(packet dns.Packet, qtype uint16) []dns.Record {
	out := make([]dns.Record, 0, len(packet.Answers))
	for _, rr := range packet.Answers {
		out = append(out, rr)
	}
	return out
}

func rcodeError(rcode dns.RCode) error {
	switch rcode {
	case dns.RCodeFormErr:
		return errors.New("format error")
	case dns.RCodeServFail:
		return errors.New("server failure")
	case dns.RCodeNXDomain:
		return errors.New("non-existent domain")
	case dns.RCodeNotImp:
		return errors.New("not implemented")
	case dns.RCodeRefused:
		return errors.New("refused")
	default:
		return errors.New("unknown DNS error")
	}
}

// retryNextSearchDomain implements the NXDOMAIN branch: if search-path
// expansion is active and components remain, regenerate the query against
// the next search domain, killing and respawning any AAAA slave.
func (r *Resolver) retryNextSearchDomain(q *query) bool {
	if !q.isMaster() || !r.cfg.SearchPathEnabled {
		return false
	}
	q.searchIndex++
	next := r.applySearchPath(q, q.searchIndex)
	if next == q.name {
		return false // search path exhausted
	}
	q.name = next
	q.nsends = 0

	if q.slave != nil {
		r.killQuery(q.slave)
		q.slave = nil
	}
	if r.cfg.IPv6Enabled {
		slave := &query{orig: q.orig, name: q.name, qtype: uint16(dns.TypeAAAA), master: q}
		q.slave = slave
		r.mu.Lock()
		slave.elem = r.lru.PushBack(slave)
		r.mu.Unlock()
		r.send(slave)
	}
	r.send(q)
	return true
}

// completeQuery records this query's outcome and, once every sibling
// (master plus slave) has reported in, merges and delivers the result
// exactly once. Matches idnsCallback's "wait for all slaves pending" rule.
func (r *Resolver) completeQuery(q *query, err error) {
	if q.answers == nil && err == nil {
		err = errors.New("resolver: empty response")
	}
	q.lastErr = err

	master := q
	if q.master != nil {
		master = q.master
	}
	if master.delivered {
		return
	}

	masterDone := master.answers != nil || master.lastErr != nil
	slaveDone := master.slave == nil || master.slave.answers != nil || master.slave.lastErr != nil
	if !masterDone || !slaveDone {
		return
	}

	master.delivered = true
	merged, mergeErr := mergeResults(master, r.cfg.V4First)
	r.finalizeAll(master, merged, mergeErr)
}

// mergeResults concatenates the master's and slave's answers in configured
// order, falling back to whichever sibling didn't error if one did.
func mergeResults(master *query, v4First bool) ([]dns.Record, error) {
	if master.slave == nil {
		return master.answers, master.lastErr
	}
	slave := master.slave
	switch {
	case master.lastErr != nil && slave.lastErr == nil:
		return slave.answers, nil
	case slave.lastErr != nil && master.lastErr == nil:
		return master.answers, nil
	case master.lastErr != nil && slave.lastErr != nil:
		return nil, master.lastErr
	}
	if v4First {
		return append(append([]dns.Record{}, master.answers...), slave.answers...), nil
	}
	return append(append([]dns.Record{}, slave.answers...), master.answers...), nil
}

// finalizeAll invokes every waiter's callback with the merged result, then
// unlinks the master (and its slave) from the in-flight tables.
func (r *Resolver) finalizeAll(master *query, answers []dns.Record, err error) {
	waiters := master.waiters
	r.unlink(master)
	for _, cb := range waiters {
		cb(answers, err)
	}
}

// finalize delivers a hard failure (id space exhausted, query build error)
// immediately, without waiting on a sibling slave — used for errors raised
// while preparing a send (first send or resend), before the packet is
// written.
func (r *Resolver) finalize(q *query, err error) {
	master := q
	if q.master != nil {
		master = q.master
	}
	if master.delivered {
		return
	}
	master.delivered = true
	r.finalizeAll(master, nil, err)
}

// unlink removes q (and, if present, its slave) from the LRU, the in-flight
// name hash, and the id table.
func (r *Resolver) unlink(q *query) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q.elem != nil {
		r.lru.Remove(q.elem)
	}
	delete(r.byID, q.id)
	delete(r.inFlight, q.orig)
	if q.slave != nil {
		if q.slave.elem != nil {
			r.lru.Remove(q.slave.elem)
		}
		delete(r.byID, q.slave.id)
	}
}

// killQuery removes a slave query (e.g. before respawning it against a new
// search domain) without touching the master's in-flight registration.
func (r *Resolver) killQuery(q *query) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q.elem != nil {
		r.lru.Remove(q.elem)
	}
	delete(r.byID, q.id)
}

// fromKnownNameserver reports whether from matches one of the configured
// nameservers, the idnsFromKnownNameserver check.
func (r *Resolver) fromKnownNameserver(from net.IP) bool {
	for _, ns := range r.cfg.Nameservers {
		if ip := net.ParseIP(ns); ip != nil && ip.Equal(from) {
			return true
		}
	}
	return false
}
