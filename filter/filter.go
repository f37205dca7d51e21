// Package filter implements response flattening: collapsing a DNS
// response's answer section to at most one record per RR type. This is
// the system's defining behavior (see package doc in cmd/dns-single-proxy).
package filter

import "github.com/miekg/dns"

// Flatten returns a clone of msg whose Answer section contains at most
// one record per distinct RR type, keeping the first record of each
// type in its original order. Authority and Additional sections, and
// all header fields including Rcode, are copied unchanged. A nil
// message or one with an empty Answer section is returned unchanged
// (after cloning). Flatten is stateless and pure: it never mutates msg.
func Flatten(msg *dns.Msg) *dns.Msg {
	if msg == nil {
		return nil
	}

	out := msg.Copy()

	if len(out.Answer) < 2 {
		return out
	}

	seen := make(map[uint16]bool, len(out.Answer))
	kept := make([]dns.RR, 0, len(out.Answer))

	for _, rr := range out.Answer {
		rrtype := rr.Header().Rrtype
		if seen[rrtype] {
			continue
		}
		seen[rrtype] = true
		kept = append(kept, rr)
	}

	out.Answer = kept

	return out
}
