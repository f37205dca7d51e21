// Package metrics registers the Prometheus collectors exposed by the
// proxy and, optionally, serves them over HTTP.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"
)

var (
	// QueriesTotal counts queries processed, by question type and the
	// outcome rcode (or "attempt" / "servfail" for pre-resolution and
	// resolver-failure accounting).
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolved_flat_queries_total",
			Help: "DNS queries processed, by question type and outcome.",
		},
		[]string{"qtype", "rcode"},
	)

	// CacheResultTotal counts cache events by result: hit or miss on
	// lookup, insert on a stored response, evict on a removed entry.
	CacheResultTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolved_flat_cache_result_total",
			Help: "Cache events, by result (hit, miss, insert, evict).",
		},
		[]string{"result"},
	)

	// UpstreamErrorsTotal counts per-server upstream failures, by tier.
	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolved_flat_upstream_errors_total",
			Help: "Upstream server failures, by tier (primary or fallback).",
		},
		[]string{"tier"},
	)

	// InflightQueries tracks queries currently being handled.
	InflightQueries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resolved_flat_inflight_queries",
			Help: "Queries currently being handled.",
		},
	)
)

// Server exposes the registered collectors over HTTP at /metrics. It is
// only started when a MetricsAddress is configured.
type Server struct {
	http *http.Server
}

// NewServer binds an HTTP server on addr serving /metrics, without
// starting it.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics HTTP server until it fails or is shut down via
// Close. Intended to be run in its own goroutine.
func (s *Server) Start() {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Error("Metrics server failed", "error", err.Error())
	}
}

// Close gracefully shuts the metrics server down.
func (s *Server) Close() error {
	return s.http.Shutdown(context.Background())
}
