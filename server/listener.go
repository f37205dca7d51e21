// Package server implements the dual UDP/TCP listener (C7): one socket
// per configured bind endpoint, dispatching each query to a bounded
// worker pool with caller-runs backpressure.
package server

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/logpresso/dns-single-proxy/config"
)

// udpBufferSize is the receive buffer for inbound client datagrams.
const udpBufferSize = 4096

// tcpIdleTimeout closes a client TCP connection after this much idle
// time, per spec.md §4.7.
const tcpIdleTimeout = 5 * time.Second

// Handler produces wire-format response bytes for a wire-format query,
// or nil to drop it. maxResponseSize is 512 over UDP, 0 (unbounded)
// over TCP.
type Handler interface {
	Handle(query []byte, maxResponseSize int) []byte
}

// Listener owns every UDP and TCP socket bound for the proxy and the
// worker pool they dispatch onto.
type Listener struct {
	handler Handler
	pool    *pool

	mu      sync.Mutex
	udp     []*net.UDPConn
	tcp     []*net.TCPListener
	closed  bool
	closeWg sync.WaitGroup
}

// New returns a Listener that has not yet bound any socket.
func New(handler Handler) *Listener {
	return &Listener{
		handler: handler,
		pool:    newPool(defaultPoolSize()),
	}
}

// Start binds UDP and TCP sockets on cfg.BindAddress and every
// DNSStubListenerExtra endpoint, then launches their receive/accept
// loops. It does nothing if cfg.DNSStubListener is false. A bind
// failure on any endpoint aborts startup; sockets already opened are
// closed before the error is returned.
func (l *Listener) Start(cfg *config.Config) error {
	if !cfg.DNSStubListener {
		return nil
	}

	addrs := []string{net.JoinHostPort(cfg.BindAddress, config.DefaultPort)}
	addrs = append(addrs, cfg.DNSStubListenerExtra...)

	for _, addr := range addrs {
		if err := l.bind(addr); err != nil {
			_ = l.Close()
			return err
		}
	}

	return nil
}

func (l *Listener) bind(addr string) error {
	udpConn, tcpLn, err := openSockets(addr)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.udp = append(l.udp, udpConn)
	l.tcp = append(l.tcp, tcpLn)
	l.mu.Unlock()

	zlog.Info("DNS listener bound", "addr", addr)

	l.closeWg.Add(2)
	go l.serveUDP(udpConn)
	go l.serveTCP(tcpLn)

	return nil
}

func openSockets(addr string) (*net.UDPConn, *net.TCPListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, nil, err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, nil, err
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		udpConn.Close()
		return nil, nil, err
	}
	tcpLn, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		udpConn.Close()
		return nil, nil, err
	}

	return udpConn, tcpLn, nil
}

// Reload rebinds the listener's sockets to match cfg: it opens every
// socket cfg now calls for before touching anything already running,
// so a reload that fails to bind (port in use, bad address) leaves the
// previous sockets serving untouched. On success the old sockets are
// closed, which unblocks their receive/accept loops so they exit on
// their own; Reload does not wait for that to happen.
func (l *Listener) Reload(cfg *config.Config) error {
	var newUDP []*net.UDPConn
	var newTCP []*net.TCPListener

	if cfg.DNSStubListener {
		addrs := []string{net.JoinHostPort(cfg.BindAddress, config.DefaultPort)}
		addrs = append(addrs, cfg.DNSStubListenerExtra...)

		for _, addr := range addrs {
			udpConn, tcpLn, err := openSockets(addr)
			if err != nil {
				for _, c := range newUDP {
					c.Close()
				}
				for _, c := range newTCP {
					c.Close()
				}
				return err
			}
			newUDP = append(newUDP, udpConn)
			newTCP = append(newTCP, tcpLn)
			zlog.Info("DNS listener rebound", "addr", addr)
		}
	}

	l.mu.Lock()
	oldUDP, oldTCP := l.udp, l.tcp
	l.udp, l.tcp = newUDP, newTCP
	l.mu.Unlock()

	l.closeWg.Add(2 * len(newUDP))
	for i := range newUDP {
		go l.serveUDP(newUDP[i])
		go l.serveTCP(newTCP[i])
	}

	for _, c := range oldUDP {
		c.Close()
	}
	for _, c := range oldTCP {
		c.Close()
	}

	return nil
}

func (l *Listener) serveUDP(conn *net.UDPConn) {
	defer l.closeWg.Done()

	for {
		buf := make([]byte, udpBufferSize)
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		query := buf[:n]
		l.pool.Submit(func() {
			resp := l.handler.Handle(query, 512)
			if resp == nil {
				return
			}
			if _, err := conn.WriteToUDP(resp, raddr); err != nil {
				zlog.Debug("UDP response send failed", "addr", raddr.String(), "error", err.Error())
			}
		})
	}
}

func (l *Listener) serveTCP(ln *net.TCPListener) {
	defer l.closeWg.Done()

	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			return
		}

		l.pool.Submit(func() { l.serveTCPConn(conn) })
	}
}

func (l *Listener) serveTCPConn(conn *net.TCPConn) {
	defer conn.Close()

	for {
		if err := conn.SetDeadline(time.Now().Add(tcpIdleTimeout)); err != nil {
			return
		}

		query, err := readFramed(conn)
		if err != nil {
			return
		}

		resp := l.handler.Handle(query, 0)
		if resp == nil {
			continue
		}

		if err := writeFramed(conn, resp); err != nil {
			zlog.Debug("TCP response send failed", "error", err.Error())
			return
		}
	}
}

func readFramed(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

func writeFramed(w io.Writer, msg []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

// Close is idempotent: it closes every socket, which unblocks the
// receive/accept loops, waits for them to exit, then shuts the worker
// pool down.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	udp, tcp := l.udp, l.tcp
	l.mu.Unlock()

	for _, c := range udp {
		c.Close()
	}
	for _, c := range tcp {
		c.Close()
	}

	l.closeWg.Wait()
	l.pool.Close()

	return nil
}
