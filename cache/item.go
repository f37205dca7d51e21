package cache

import (
	"sync"
	"time"

	"github.com/miekg/dns"
)

// NegativeTTL is the fixed TTL applied to NXDOMAIN entries, regardless
// of the upstream's own authority-section TTL.
const NegativeTTL = 30 * time.Second

// memoWindow bounds how long a TTL-decremented clone may be reused
// across readers before it is recomputed; staleness here is bounded by
// a second, which is already below the granularity TTLs are tracked at.
const memoWindow = 1 * time.Second

// entry is one cached response plus the bookkeeping needed to serve
// TTL-accurate clones and drive batched eviction.
type entry struct {
	msg          *dns.Msg
	ttl          uint32 // the minimum stored per-record TTL, seconds, at insertion time
	creationTime time.Time
	expiration   time.Time

	mu     sync.Mutex
	memo   *dns.Msg
	memoAt time.Time
}

func newEntry(msg *dns.Msg, ttl uint32, now time.Time) *entry {
	return &entry{
		msg:          msg,
		ttl:          ttl,
		creationTime: now,
		expiration:   now.Add(time.Duration(ttl) * time.Second),
	}
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiration)
}

// clone returns msg with every record's TTL decremented by the elapsed
// time since creation, floored at 0. Results are memoized for up to
// memoWindow so that hot keys under heavy concurrent read don't pay a
// full dns.Msg clone on every lookup; any reader may observe either the
// last memo or a freshly computed clone, both are correct to within the
// second-granularity TTL contract.
func (e *entry) clone(now time.Time) *dns.Msg {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.memo != nil && now.Sub(e.memoAt) < memoWindow {
		return e.memo.Copy()
	}

	elapsed := uint32(now.Sub(e.creationTime) / time.Second)

	out := e.msg.Copy()
	decrementTTL(out.Answer, elapsed)
	decrementTTL(out.Ns, elapsed)
	decrementTTL(out.Extra, elapsed)

	e.memo = out
	e.memoAt = now

	return out.Copy()
}

func decrementTTL(rrs []dns.RR, elapsed uint32) {
	for _, rr := range rrs {
		if rr.Header().Rrtype == dns.TypeOPT {
			continue
		}
		hdr := rr.Header()
		if elapsed >= hdr.Ttl {
			hdr.Ttl = 0
		} else {
			hdr.Ttl -= elapsed
		}
	}
}
