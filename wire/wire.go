// Package wire implements the DNS message codec (decode/encode) and the
// minimal response constructors used for SERVFAIL and truncated replies.
package wire

import (
	"github.com/miekg/dns"
)

// MaxUDPSize is the serialized response size above which a UDP reply
// must be truncated per RFC 1035.
const MaxUDPSize = 512

// Decode parses a raw DNS message. A malformed packet returns an error;
// callers drop the packet rather than reply on a parse failure.
func Decode(b []byte) (*dns.Msg, error) {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes a DNS message to wire format.
func Encode(m *dns.Msg) ([]byte, error) {
	return m.Pack()
}

// Question returns the sole question of a message, or false if the
// message carries no question section.
func Question(m *dns.Msg) (dns.Question, bool) {
	if len(m.Question) == 0 {
		return dns.Question{}, false
	}
	return m.Question[0], true
}

// Minimal builds a reply carrying {id, QR=1, rcode} and the echoed
// question, with the request's opcode, RD and CD bits, RA=1, and
// optionally TC=1. It never carries Answer, Authority or
// Additional records, so it always fits a single UDP datagram.
func Minimal(req *dns.Msg, rcode int, truncated bool) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, rcode)
	m.Truncated = truncated
	m.RecursionAvailable = true
	m.Answer, m.Ns, m.Extra = nil, nil, nil
	return m
}

// Servfail builds the minimal SERVFAIL reply echoing the client's ID.
func Servfail(req *dns.Msg) *dns.Msg {
	return Minimal(req, dns.RcodeServerFailure, false)
}

// Truncate builds the minimal TC=1 reply used when a UDP response would
// overflow MaxUDPSize; the client is expected to retry over TCP.
func Truncate(req *dns.Msg) *dns.Msg {
	return Minimal(req, dns.RcodeSuccess, true)
}

// Clone returns a deep copy of a message, safe for independent mutation
// (e.g. per-record TTL decrement, or rewriting the header ID for one
// caller while another caller's clone is rewritten differently).
func Clone(m *dns.Msg) *dns.Msg {
	return m.Copy()
}
