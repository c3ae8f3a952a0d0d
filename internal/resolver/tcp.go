package resolver

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cachegate/cachegate/internal/async"
	"github.com/cachegate/cachegate/internal/dns"
)

// virtualCircuit is a lazily opened TCP connection to one nameserver, used
// only once UDP truncation has forced virtual-circuit mode for a query
// against that server. Frames are 16-bit-length-prefixed per RFC 1035
// §4.2.2. Writes serialize through mu, which writeFrame holds for a whole
// frame, so two queries never interleave their frames; busy and queue are
// not used.
type virtualCircuit struct {
	mu    sync.Mutex
	conn  net.Conn
	busy  bool
	queue [][]byte // not used; writeFrame writes each frame directly
}

const tcpConnectTimeout = 5 * time.Second

// vcFor returns (opening if necessary) the virtual circuit to ns.
func (r *Resolver) vcFor(ns string) (*virtualCircuit, error) {
	r.mu.Lock()
	vc, ok := r.vcs[ns]
	r.mu.Unlock()
	if ok {
		return vc, nil
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ns, "53"), tcpConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("resolver: open nsvc to %s: %w", ns, err)
	}
	vc = &virtualCircuit{conn: conn}

	r.mu.Lock()
	r.vcs[ns] = vc
	r.mu.Unlock()

	go r.vcReadLoop(ns, vc)
	return vc, nil
}

func (vc *virtualCircuit) close() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.conn != nil {
		vc.conn.Close()
	}
}

// handleTruncation marks q as needing a virtual circuit and resends it over
// TCP to the nameserver it was last sent to. If the query already demanded
// a VC and is truncated again, that is surfaced as an error and the query
// stops — matches the "recurs on TCP, surface an error" clause.
func (r *Resolver) handleTruncation(q *query) {
	if q.needVC {
		r.completeQuery(q, fmt.Errorf("resolver: truncated again over TCP for %q", q.name))
		return
	}
	q.needVC = true

	ns := q.lastNS
	vc, err := r.vcFor(ns)
	if err != nil {
		r.completeQuery(q, err)
		return
	}

	packet := dns.Packet{
		Header:    dns.Header{ID: q.id, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: q.name, Type: q.qtype, Class: uint16(dns.ClassIN)}},
	}
	wire, err := packet.Marshal()
	if err != nil {
		r.completeQuery(q, err)
		return
	}
	if err := vc.writeFrame(wire); err != nil {
		r.completeQuery(q, fmt.Errorf("resolver: nsvc write: %w", err))
	}
}

func (vc *virtualCircuit) writeFrame(payload []byte) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(payload)))
	if _, err := vc.conn.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := vc.conn.Write(payload)
	return err
}

// vcReadLoop reads length-prefixed frames off the virtual circuit to ns and
// dispatches each one through the same grokReply path as a UDP datagram. A
// close handler resets the owning nameserver's nsvc slot so a fresh
// connection is opened next time truncation forces VC mode.
func (r *Resolver) vcReadLoop(ns string, vc *virtualCircuit) {
	defer func() {
		r.mu.Lock()
		if r.vcs[ns] == vc {
			delete(r.vcs, ns)
		}
		r.mu.Unlock()
	}()

	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(vc.conn, lenBuf[:]); err != nil {
			return
		}
		frameLen := binary.BigEndian.Uint16(lenBuf[:])
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(vc.conn, frame); err != nil {
			return
		}

		h := selfHandle(r)
		r.queue.Schedule(async.Call{
			Name: "resolver::grokReply(tcp)",
			Fire: func() {
				res, ok := h.Get()
				if !ok {
					return
				}
				res.grokReply(frame, net.ParseIP(ns))
			},
		})
	}
}
