// Package config resolves the effective server configuration from
// resolved.conf and its drop-ins, following the same key compatibility
// contract as systemd-resolved. See Load for the resolution chain.
package config

// Endpoint is a resolved upstream server address.
type Endpoint struct {
	Host string
	Port string
}

// String returns the endpoint in host:port form, bracketing IPv6 hosts.
func (e Endpoint) String() string {
	return joinHostPort(e.Host, e.Port)
}

// Config is the immutable, fully resolved configuration for one process
// lifetime. Every field has already had defaults applied and the DNS
// resolution chain (file -> networkctl -> resolv.conf -> fallback
// promotion) run.
type Config struct {
	DNS         []Endpoint
	FallbackDNS []Endpoint

	Cache bool

	DNSStubListener      bool
	DNSStubListenerExtra []string
	BindAddress          string

	CacheSize      int
	MaxDepth       int
	MetricsAddress string

	// Warning is a human-readable note produced while resolving the
	// configuration (e.g. fallback promotion); surfaced once at startup.
	Warning string

	// ConfigPath and DropinDir record where this value was loaded from,
	// so the watcher (see Watcher) can re-resolve on a filesystem event.
	ConfigPath string
	DropinDir  string
	ResolvConf string
}

const (
	// DefaultConfigPath is the canonical resolved.conf location.
	DefaultConfigPath = "/etc/systemd/resolved.conf"
	// DefaultDropinDir holds *.conf overrides applied after the main file.
	DefaultDropinDir = "/etc/systemd/resolved.conf.d"
	// DefaultResolvConf is consulted only when no DNS= is configured.
	DefaultResolvConf = "/etc/resolv.conf"
	// DefaultBindAddress is the stub listener's loopback address.
	DefaultBindAddress = "127.0.0.53"
	// DefaultPort is used for any endpoint with no explicit :port.
	DefaultPort = "53"
	// DefaultCacheSize bounds the number of live cache entries.
	DefaultCacheSize = 10000
	// DefaultMaxDepth is the default of Config.MaxDepth. No component
	// reads that field: neither the resolver nor its callers chase CNAMEs.
	DefaultMaxDepth = 8
)

func newDefault() *Config {
	return &Config{
		Cache:           true,
		DNSStubListener: true,
		BindAddress:     DefaultBindAddress,
		CacheSize:       DefaultCacheSize,
		MaxDepth:        DefaultMaxDepth,
		ConfigPath:      DefaultConfigPath,
		DropinDir:       DefaultDropinDir,
		ResolvConf:      DefaultResolvConf,
	}
}
