package resolver

import (
	"math"
	"time"

	"github.com/cachegate/cachegate/internal/async"
)

// backoffDelay returns how long to wait after the k-th send (1-indexed)
// before the next retransmit is due: idns_retransmit * 2^((k-1)/nns),
// spread the exponential growth across the nameserver pool exactly as
// idnsCheckQueue computes it.
func backoffDelay(base time.Duration, sendCount, nameserverCount int) time.Duration {
	if nameserverCount < 1 {
		nameserverCount = 1
	}
	exp := float64(sendCount-1) / float64(nameserverCount)
	return time.Duration(float64(base) * math.Pow(2, exp))
}

// armRetransmitTimer schedules the next idnsCheckQueue pass at
// min(idns_query, idns_retransmit), the same wakeup cadence as the
// original's single shared timer.
func (r *Resolver) armRetransmitTimer() {
	interval := r.cfg.RetransmitInterval
	if r.cfg.QueryTimeout < interval {
		interval = r.cfg.QueryTimeout
	}
	if interval <= 0 {
		interval = time.Second
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.retransmitTimer = time.AfterFunc(interval, func() {
		r.queue.Schedule(async.Call{
			Name: "resolver::checkQueue",
			Fire: r.checkQueue,
		})
	})
	r.mu.Unlock()
}

// checkQueue walks the LRU tail-to-head (oldest send first), resending any
// query whose backoff has elapsed and giving up on any that have exceeded
// idns_query total elapsed time. Matches idnsCheckQueue.
func (r *Resolver) checkQueue() {
	defer r.armRetransmitTimer()

	now := time.Now()
	r.mu.Lock()
	var due []*query
	for e := r.lru.Front(); e != nil; e = e.Next() {
		q := e.Value.(*query)
		if q.delivered || q.nsends == 0 {
			continue
		}
		elapsedSinceFirst := now.Sub(q.firstSendTime)
		if elapsedSinceFirst >= r.cfg.QueryTimeout {
			due = append(due, q) // will be timed out below
			continue
		}
		delay := backoffDelay(r.cfg.RetransmitInterval, q.nsends, len(r.cfg.Nameservers))
		if now.Sub(q.lastSendTime) >= delay {
			due = append(due, q)
		}
	}
	r.mu.Unlock()

	for _, q := range due {
		if now.Sub(q.firstSendTime) >= r.cfg.QueryTimeout {
			msg := "Timeout"
			if q.lastErr != nil {
				msg = q.lastErr.Error()
			}
			r.completeQuery(q, timeoutError(msg))
			continue
		}
		r.send(q)
	}
}

type timeoutError string

func (e timeoutError) Error() string { return string(e) }
