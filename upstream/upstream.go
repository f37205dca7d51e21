// Package upstream implements the sequential upstream resolver: primary
// servers are tried in order, then fallback servers, with UDP first and
// a TCP retry on truncation. There is no racing between servers; the
// first successful response wins.
package upstream

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/logpresso/dns-single-proxy/config"
	"github.com/logpresso/dns-single-proxy/metrics"
)

// Timeout is the read/connect deadline applied to every UDP and TCP
// attempt against a single server.
const Timeout = 2 * time.Second

// udpBufferSize is the receive buffer used for the initial UDP attempt.
const udpBufferSize = 4096

// ConfigSource supplies the server tiers a Resolver queries. *config.Watcher
// satisfies this, so a Resolver always sees the live, reloaded
// configuration rather than the one in effect at startup.
type ConfigSource interface {
	Current() *config.Config
}

// Resolver queries a primary tier, then a fallback tier, in order,
// returning the first successful response. The tiers are read from
// source on every call, so a config reload takes effect on the next
// query with no restart required.
type Resolver struct {
	source ConfigSource
}

// New returns a Resolver that re-reads its server tiers from source on
// every Resolve call.
func New(source ConfigSource) *Resolver {
	return &Resolver{source: source}
}

// ErrExhausted is returned when every server in both tiers failed.
type ErrExhausted struct {
	Primary, Fallback int
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("upstream: exhausted %d primary and %d fallback servers", e.Primary, e.Fallback)
}

// Resolve walks the primary tier, then the fallback tier, returning the
// first response any server produces. query must have exactly one
// question; the caller is responsible for rewriting the response ID.
func (r *Resolver) Resolve(query *dns.Msg) (*dns.Msg, error) {
	cfg := r.source.Current()

	if resp := r.walk(query, cfg.DNS, "primary"); resp != nil {
		return resp, nil
	}

	if len(cfg.FallbackDNS) > 0 {
		qname, qtype := questionLabel(query)
		zlog.Warn("Primary DNS servers exhausted, falling back", "qname", qname, "qtype", qtype)

		if resp := r.walk(query, cfg.FallbackDNS, "fallback"); resp != nil {
			return resp, nil
		}
	}

	return nil, &ErrExhausted{Primary: len(cfg.DNS), Fallback: len(cfg.FallbackDNS)}
}

func (r *Resolver) walk(query *dns.Msg, servers []config.Endpoint, tier string) *dns.Msg {
	qname, qtype := questionLabel(query)

	for _, server := range servers {
		addr := server.String()

		resp, err := exchangeUDP(query, addr)
		if err != nil {
			zlog.Debug("Upstream UDP query failed", "qname", qname, "qtype", qtype, "server", addr, "error", err.Error())
			metrics.UpstreamErrorsTotal.WithLabelValues(tier).Inc()
			continue
		}

		if resp.Truncated {
			resp, err = exchangeTCP(query, addr)
			if err != nil {
				zlog.Debug("Upstream TCP retry failed", "qname", qname, "qtype", qtype, "server", addr, "error", err.Error())
				metrics.UpstreamErrorsTotal.WithLabelValues(tier).Inc()
				continue
			}
		}

		return resp
	}

	return nil
}

func exchangeUDP(query *dns.Msg, addr string) (*dns.Msg, error) {
	conn, err := net.DialTimeout("udp", addr, Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(Timeout)); err != nil {
		return nil, err
	}

	packed, err := query.Pack()
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write(packed); err != nil {
		return nil, err
	}

	buf := make([]byte, udpBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(buf[:n]); err != nil {
		return nil, err
	}

	return resp, nil
}

func exchangeTCP(query *dns.Msg, addr string) (*dns.Msg, error) {
	conn, err := net.DialTimeout("tcp", addr, Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(Timeout)); err != nil {
		return nil, err
	}

	co := &dns.Conn{Conn: conn}
	if err := co.WriteMsg(query); err != nil {
		return nil, err
	}

	return co.ReadMsg()
}

func questionLabel(m *dns.Msg) (qname string, qtype string) {
	if len(m.Question) == 0 {
		return "", ""
	}
	q := m.Question[0]
	return q.Name, dns.TypeToString[q.Qtype]
}
