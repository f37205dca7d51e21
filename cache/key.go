package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/miekg/dns"
)

// Key returns the cache key for (qname, qtype, qclass), canonicalized
// to a single string before hashing so that qname matching is always
// case-insensitive.
func Key(qname string, qtype, qclass uint16) uint64 {
	var b strings.Builder
	b.Grow(len(qname) + 12)
	b.WriteString(strings.ToLower(qname))
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(uint64(qtype), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(uint64(qclass), 10))

	return xxhash.Sum64String(b.String())
}

// QuestionKey is Key applied to a parsed dns.Question.
func QuestionKey(q dns.Question) uint64 {
	return Key(q.Name, q.Qtype, q.Qclass)
}
