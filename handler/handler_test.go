package handler

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logpresso/dns-single-proxy/cache"
)

type fakeResolver struct {
	calls atomic.Int32
	fn    func(*dns.Msg) (*dns.Msg, error)
}

func (f *fakeResolver) Resolve(query *dns.Msg) (*dns.Msg, error) {
	f.calls.Add(1)
	return f.fn(query)
}

func answerA(req *dns.Msg, ip string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	rr, _ := dns.NewRR(req.Question[0].Name + " 300 IN A " + ip)
	resp.Answer = []dns.RR{rr}
	return resp
}

func packQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(name, qtype) // assigns a random ID, so the fixed one is set after it
	m.Id = 0x1234
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

// largeTXT returns a single TXT record whose wire form alone exceeds 512
// bytes. It is one record because the handler keeps only the first
// record of each type, so several small records would not add up.
func largeTXT(name string) dns.RR {
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 300},
		Txt: []string{strings.Repeat("a", 200), strings.Repeat("b", 200), strings.Repeat("c", 200)},
	}
}

func unpack(t *testing.T, b []byte) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	require.NoError(t, m.Unpack(b))
	return m
}

func Test_Handle_cacheMissResolvesAndCaches(t *testing.T) {
	resolver := &fakeResolver{fn: func(req *dns.Msg) (*dns.Msg, error) {
		return answerA(req, "1.1.1.1"), nil
	}}
	c := cache.New(100)
	h := New(resolver, c, true)

	query := packQuery(t, "example.com.", dns.TypeA)
	out := h.Handle(query, 512)

	resp := unpack(t, out)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "1.1.1.1", resp.Answer[0].(*dns.A).A.String())
	assert.Equal(t, uint16(0x1234), resp.Id)
	assert.Equal(t, int32(1), resolver.calls.Load())

	// second identical query is served from cache, no further resolve call
	out2 := h.Handle(packQuery(t, "example.com.", dns.TypeA), 512)
	resp2 := unpack(t, out2)
	assert.Equal(t, "1.1.1.1", resp2.Answer[0].(*dns.A).A.String())
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func Test_Handle_upstreamErrorReturnsServfail(t *testing.T) {
	resolver := &fakeResolver{fn: func(req *dns.Msg) (*dns.Msg, error) {
		return nil, errors.New("boom")
	}}
	h := New(resolver, cache.New(100), true)

	out := h.Handle(packQuery(t, "example.com.", dns.TypeA), 512)
	resp := unpack(t, out)

	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	assert.Equal(t, uint16(0x1234), resp.Id)
}

func Test_Handle_unparsableQueryDropped(t *testing.T) {
	h := New(&fakeResolver{}, cache.New(100), true)
	out := h.Handle([]byte{0x01, 0x02}, 512)
	assert.Nil(t, out)
}

func Test_Handle_truncatesOverUDPSizeLimit(t *testing.T) {
	resolver := &fakeResolver{fn: func(req *dns.Msg) (*dns.Msg, error) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		resp.Answer = []dns.RR{largeTXT(req.Question[0].Name)}
		return resp, nil
	}}
	h := New(resolver, cache.New(100), false)

	out := h.Handle(packQuery(t, "example.com.", dns.TypeTXT), 512)
	resp := unpack(t, out)

	assert.True(t, resp.Truncated)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, uint16(0x1234), resp.Id)
}

func Test_Handle_tcpPathIsNotSizeBounded(t *testing.T) {
	resolver := &fakeResolver{fn: func(req *dns.Msg) (*dns.Msg, error) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		resp.Answer = []dns.RR{largeTXT(req.Question[0].Name)}
		return resp, nil
	}}
	h := New(resolver, cache.New(100), false)

	out := h.Handle(packQuery(t, "example.com.", dns.TypeTXT), 0)
	resp := unpack(t, out)

	assert.False(t, resp.Truncated)
	assert.NotEmpty(t, resp.Answer)
}

func Test_Handle_cachingDisabledAlwaysResolves(t *testing.T) {
	resolver := &fakeResolver{fn: func(req *dns.Msg) (*dns.Msg, error) {
		return answerA(req, "3.3.3.3"), nil
	}}
	h := New(resolver, cache.New(100), false)

	h.Handle(packQuery(t, "example.com.", dns.TypeA), 512)
	h.Handle(packQuery(t, "example.com.", dns.TypeA), 512)

	assert.Equal(t, int32(2), resolver.calls.Load())
}

func Test_Handle_flattensBeforeCaching(t *testing.T) {
	resolver := &fakeResolver{fn: func(req *dns.Msg) (*dns.Msg, error) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		a1, _ := dns.NewRR(req.Question[0].Name + " 300 IN A 1.1.1.1")
		a2, _ := dns.NewRR(req.Question[0].Name + " 300 IN A 2.2.2.2")
		resp.Answer = []dns.RR{a1, a2}
		return resp, nil
	}}
	c := cache.New(100)
	h := New(resolver, c, true)

	out := h.Handle(packQuery(t, "example.com.", dns.TypeA), 512)
	resp := unpack(t, out)
	require.Len(t, resp.Answer, 1)

	hit, ok := c.Get(cache.Key("example.com.", dns.TypeA, dns.ClassINET))
	require.True(t, ok)
	assert.Len(t, hit.Answer, 1)
}

func Test_Handle_coalescesConcurrentIdenticalMisses(t *testing.T) {
	var started sync.WaitGroup
	release := make(chan struct{})
	started.Add(1)

	var once sync.Once
	resolver := &fakeResolver{fn: func(req *dns.Msg) (*dns.Msg, error) {
		once.Do(func() { started.Done() })
		<-release
		return answerA(req, "9.9.9.9"), nil
	}}
	h := New(resolver, cache.New(100), true)

	var wg sync.WaitGroup
	results := make([][]byte, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.Handle(packQuery(t, "coalesce.example.", dns.TypeA), 512)
		}(i)
	}

	started.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), resolver.calls.Load())
	for _, r := range results {
		resp := unpack(t, r)
		require.Len(t, resp.Answer, 1)
		assert.Equal(t, "9.9.9.9", resp.Answer[0].(*dns.A).A.String())
	}
}
