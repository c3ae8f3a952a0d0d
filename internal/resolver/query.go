package resolver

import (
	"container/list"
	"math/rand"
	"time"

	"github.com/cachegate/cachegate/internal/dns"
)

// Callback is invoked exactly once per aLookup/ptrLookup, either for the
// original caller or for a waiter that deduplicated onto an in-flight
// query. answers is nil on error.
type Callback func(answers []dns.Record, err error)

// query is one outstanding lookup: either a master (the one that owns the
// wire exchange and, for A lookups, an AAAA slave) or a slave itself.
// Mirrors idns_query.
type query struct {
	id   uint16
	name string // fully qualified name actually placed on the wire
	orig string // name as requested by the caller, before search-path expansion
	qtype uint16

	nsends        int
	firstSendTime time.Time
	lastSendTime  time.Time
	lastNS        string
	rcode         dns.RCode
	lastErr       error

	searchIndex int // how many search-path entries have been tried

	needVC    bool // truncated over UDP, must retry over TCP
	delivered bool // result already handed to waiters; guards double-delivery

	master  *query   // nil for a master query
	slave   *query   // the AAAA sibling of an A master, nil otherwise
	answers []dns.Record

	waiters []Callback // the original caller plus any who deduplicated onto this query

	elem *list.Element // this query's node in the resolver's lru list
}

func (q *query) isMaster() bool { return q.master == nil }

// allocateQueryID draws a random 16-bit id and, on collision with any
// in-flight query, increments it until unique or the space wraps — matching
// idnsQueryID's linear probe and overload warning.
func allocateQueryID(inFlight *list.List) (uint16, bool) {
	id := uint16(rand.Intn(65536))
	start := id
	for {
		collide := false
		for e := inFlight.Front(); e != nil; e = e.Next() {
			if e.Value.(*query).id == id {
				collide = true
				break
			}
		}
		if !collide {
			return id, true
		}
		id++
		if id == start {
			return 0, false // full wrap: every id is in use, overload condition
		}
	}
}
