// Package handler implements the per-query state machine: parse, serve
// from cache, resolve upstream on miss, flatten, cache, and respond,
// with concurrent identical misses coalesced onto a single upstream call.
package handler

import (
	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/singleflight"

	"github.com/logpresso/dns-single-proxy/cache"
	"github.com/logpresso/dns-single-proxy/filter"
	"github.com/logpresso/dns-single-proxy/metrics"
	"github.com/logpresso/dns-single-proxy/wire"
)

// Resolver is the upstream collaborator the Handler drives on a cache
// miss. upstream.Resolver satisfies this.
type Resolver interface {
	Resolve(query *dns.Msg) (*dns.Msg, error)
}

// Handler implements the parsing -> cache_lookup -> upstream_resolve ->
// filter -> cache_insert -> respond state machine described for C6.
type Handler struct {
	resolver  Resolver
	cache     *cache.Cache
	cacheOn   bool
	coalescer singleflight.Group
}

// New returns a Handler. cache may be nil, in which case caching is
// disabled regardless of cacheEnabled.
func New(resolver Resolver, c *cache.Cache, cacheEnabled bool) *Handler {
	return &Handler{
		resolver: resolver,
		cache:    c,
		cacheOn:  cacheEnabled && c != nil,
	}
}

// Handle runs one query through the state machine and returns the wire
// bytes to send back, or nil if the query must be silently dropped
// (unparsable datagram over UDP). maxResponseSize is 512 for UDP and 0
// (unbounded) for TCP.
func (h *Handler) Handle(queryBytes []byte, maxResponseSize int) []byte {
	req, err := wire.Decode(queryBytes)
	if err != nil {
		zlog.Debug("Dropping unparsable query", "error", err.Error())
		return nil
	}

	q, ok := wire.Question(req)
	if !ok {
		return h.finish(req, wire.Minimal(req, dns.RcodeServerFailure, false), maxResponseSize)
	}

	metrics.QueriesTotal.WithLabelValues(dns.TypeToString[q.Qtype], "attempt").Inc()
	metrics.InflightQueries.Inc()
	defer metrics.InflightQueries.Dec()

	if h.cacheOn {
		key := cache.QuestionKey(q)
		if hit, ok := h.cache.Get(key); ok {
			metrics.CacheResultTotal.WithLabelValues("hit").Inc()
			metrics.QueriesTotal.WithLabelValues(dns.TypeToString[q.Qtype], dns.RcodeToString[hit.Rcode]).Inc()
			return h.finish(req, hit, maxResponseSize)
		}
		metrics.CacheResultTotal.WithLabelValues("miss").Inc()
	}

	resp, err := h.resolve(req, q)
	if err != nil {
		zlog.Error("Upstream resolution failed", "qname", q.Name, "qtype", dns.TypeToString[q.Qtype], "error", err.Error())
		metrics.QueriesTotal.WithLabelValues(dns.TypeToString[q.Qtype], "servfail").Inc()
		return h.finish(req, wire.Minimal(req, dns.RcodeServerFailure, false), maxResponseSize)
	}

	flattened := filter.Flatten(resp)

	if h.cacheOn {
		h.cache.Put(cache.QuestionKey(q), flattened)
	}

	metrics.QueriesTotal.WithLabelValues(dns.TypeToString[q.Qtype], dns.RcodeToString[flattened.Rcode]).Inc()

	return h.finish(req, flattened, maxResponseSize)
}

// resolve calls the upstream resolver, coalescing concurrent identical
// cache-miss queries onto a single call so that a thundering herd for
// the same name only produces one upstream round trip.
func (h *Handler) resolve(req *dns.Msg, q dns.Question) (*dns.Msg, error) {
	key := coalesceKey(q)

	v, err, _ := h.coalescer.Do(key, func() (interface{}, error) {
		return h.resolver.Resolve(req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dns.Msg), nil
}

// finish rewrites the response ID to the client's, serializes it, and
// applies the UDP truncation rule if the result exceeds maxResponseSize.
// maxResponseSize <= 0 means unbounded (TCP).
func (h *Handler) finish(req, resp *dns.Msg, maxResponseSize int) []byte {
	resp.Id = req.Id

	out, err := wire.Encode(resp)
	if err != nil {
		zlog.Error("Failed to serialize response", "error", err.Error())
		out, _ = wire.Encode(wire.Minimal(req, dns.RcodeServerFailure, false))
		return out
	}

	if maxResponseSize > 0 && len(out) > maxResponseSize {
		truncated, err := wire.Encode(wire.Truncate(req))
		if err != nil {
			return nil
		}
		return truncated
	}

	return out
}

func coalesceKey(q dns.Question) string {
	return dns.TypeToString[q.Qtype] + "|" + dns.ClassToString[q.Qclass] + "|" + q.Name
}
