// Package cache implements the TTL-accurate response cache: a
// concurrent map keyed by (qname, qtype, qclass) with time-aware TTL
// decrement on read, positive/negative caching, and bounded eviction.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/logpresso/dns-single-proxy/metrics"
)

// EvictionBatchSize is how many insertions trigger an expired-entry
// sweep (spec.md §4.5: "every EVICTION_BATCH_SIZE (=100) insertions").
const EvictionBatchSize = 100

// DefaultMaxEntries is the eviction ceiling applied when Cache is
// constructed with maxEntries <= 0.
const DefaultMaxEntries = 10000

// Cache is a TTL-aware cache safe for concurrent readers and writers.
// get/put never hold the cache-wide lock across cloning or
// serialization; a hit clones under that entry's own lock only.
type Cache struct {
	mu         sync.RWMutex
	entries    map[uint64]*entry
	maxEntries int
	inserts    atomic.Uint64

	now func() time.Time // overridable for tests
}

// New returns an empty cache bounded at maxEntries entries. maxEntries
// <= 0 uses DefaultMaxEntries.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[uint64]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a TTL-adjusted clone of the cached response for key, or
// (nil, false) on a miss. An expired entry is removed and reported as
// a miss. The returned message's header ID is the cached response's
// own ID; callers must rewrite it to the requesting client's ID.
func (c *Cache) Get(key uint64) (*dns.Msg, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if e.expired(now) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.clone(now), true
}

// Put inserts msg under key, computing its TTL per spec.md §4.5:
// NXDOMAIN gets the fixed 30s negative TTL; otherwise the TTL is the
// minimum TTL across Answer/Authority/Additional, and a non-positive or
// record-less minimum means "do not cache." Put is a no-op in that case.
func (c *Cache) Put(key uint64, msg *dns.Msg) {
	ttl, cacheable := computeTTL(msg)
	if !cacheable {
		return
	}

	now := c.now()
	e := newEntry(msg.Copy(), ttl, now)

	c.mu.Lock()
	c.entries[key] = e
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheResultTotal.WithLabelValues("insert").Inc()

	n := c.inserts.Add(1)
	if n%EvictionBatchSize == 0 || size >= c.maxEntries {
		c.sweepExpired(now)

		c.mu.RLock()
		size = len(c.entries)
		c.mu.RUnlock()

		if size >= c.maxEntries {
			c.evictOldest()
		}
	}
}

// Len reports the current number of live entries, including any that
// are expired but not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// computeTTL implements the "what TTL do we cache this at" rule from
// spec.md §4.5, returning (ttl, false) whenever the response must not
// be cached at all.
func computeTTL(msg *dns.Msg) (uint32, bool) {
	if msg.Rcode == dns.RcodeNameError {
		return uint32(NegativeTTL / time.Second), true
	}

	var (
		min   uint32
		found bool
	)

	scan := func(rrs []dns.RR) {
		for _, rr := range rrs {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}
			ttl := rr.Header().Ttl
			if !found || ttl < min {
				min = ttl
				found = true
			}
		}
	}
	scan(msg.Answer)
	scan(msg.Ns)
	scan(msg.Extra)

	if !found || min == 0 {
		return 0, false
	}

	return min, true
}

func (c *Cache) sweepExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			metrics.CacheResultTotal.WithLabelValues("evict").Inc()
		}
	}
}

// evictOldest drops the oldest 10% of entries by creation time, per
// spec.md §4.5's size-based eviction rule. Eviction may race with
// concurrent inserts; the only guarantee is that size eventually
// settles below maxEntries, not that it is never momentarily exceeded.
func (c *Cache) evictOldest() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	if n < c.maxEntries {
		return
	}

	victims := n / 10
	if victims < 1 {
		victims = 1
	}

	type aged struct {
		key     uint64
		created time.Time
	}
	ordered := make([]aged, 0, n)
	for key, e := range c.entries {
		ordered = append(ordered, aged{key, e.creationTime})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].created.Before(ordered[j].created)
	})

	for i := 0; i < victims && i < len(ordered); i++ {
		delete(c.entries, ordered[i].key)
		metrics.CacheResultTotal.WithLabelValues("evict").Inc()
	}
}
