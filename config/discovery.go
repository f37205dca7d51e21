package config

import (
	"bufio"
	"os/exec"
	"strings"

	"github.com/miekg/dns"
)

// NameserverSource discovers candidate nameserver addresses from some
// external place (a file, a running daemon) when resolved.conf itself
// carries no DNS=. Tests substitute a fake implementation instead of
// subclassing a parser, per the injected-collaborator design note.
type NameserverSource interface {
	// Discover returns nameserver addresses in discovery order, with
	// any localhost address already excluded. An empty, nil-error
	// result means "nothing found here, try the next source."
	Discover() ([]string, error)
}

// networkctlSource runs `networkctl status` and harvests "DNS:" lines,
// mirroring resolved's own per-link DNS server discovery via networkd.
type networkctlSource struct{}

func (networkctlSource) Discover() ([]string, error) {
	out, err := exec.Command("networkctl", "status").Output()
	if err != nil {
		// networkctl absent or networkd not running is routine on
		// many systems; treat as "nothing discovered," not an error.
		return nil, nil //nolint:nilerr
	}

	var addrs []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "DNS:") {
			continue
		}
		for _, field := range strings.Fields(strings.TrimPrefix(line, "DNS:")) {
			if !isLoopbackNameserver(field) {
				addrs = append(addrs, field)
			}
		}
	}
	return addrs, scanner.Err()
}

// resolvConfSource reads nameserver entries from an /etc/resolv.conf-style
// file, skipping 127.0.0.0/8 and ::1 entries per the resolution chain.
type resolvConfSource struct {
	path string
}

func (s resolvConfSource) Discover() ([]string, error) {
	cc, err := dns.ClientConfigFromFile(s.path)
	if err != nil {
		return nil, nil //nolint:nilerr // missing/unreadable resolv.conf just yields no candidates
	}

	var addrs []string
	for _, server := range cc.Servers {
		if !isLoopbackNameserver(server) {
			addrs = append(addrs, server)
		}
	}
	return addrs, nil
}
