package config

import (
	"fmt"

	"github.com/semihalev/zlog/v2"
)

// Load resolves the effective configuration starting from mainPath and
// its drop-in directory, following resolved.conf's compatibility
// contract. It is a thin wrapper over LoadWithSources using the real
// networkctl and /etc/resolv.conf discovery sources, in that order.
func Load(mainPath string) (*Config, error) {
	return LoadWithSources(mainPath, DefaultDropinDir, DefaultResolvConf,
		networkctlSource{}, resolvConfSource{path: DefaultResolvConf})
}

// LoadWithSources is Load with every external collaborator injected, so
// tests can substitute fake discovery sources and a scratch resolv.conf
// path instead of subclassing the parser.
func LoadWithSources(mainPath, dropinDir, resolvConfPath string, sources ...NameserverSource) (*Config, error) {
	settings, err := parseChain(mainPath, dropinDir)
	if err != nil {
		return nil, err
	}

	cfg := newDefault()
	cfg.ConfigPath = mainPath
	cfg.DropinDir = dropinDir
	cfg.ResolvConf = resolvConfPath

	if settings.cache != nil {
		cfg.Cache = *settings.cache
	}
	if settings.dnsStubListener != nil {
		cfg.DNSStubListener = *settings.dnsStubListener
	}
	if settings.bindAddress != nil && *settings.bindAddress != "" {
		cfg.BindAddress = *settings.bindAddress
	}
	if settings.metricsAddress != nil {
		cfg.MetricsAddress = *settings.metricsAddress
	}
	cfg.DNSStubListenerExtra = settings.dnsStubListenerExtra

	fallback, err := parseEndpoints(settings.fallbackDNS)
	if err != nil {
		return nil, err
	}
	cfg.FallbackDNS = fallback

	primary, err := parseEndpoints(settings.dns)
	if err != nil {
		return nil, err
	}

	if len(primary) == 0 {
		primary, cfg.Warning, err = discoverPrimary(sources, fallback)
		if err != nil {
			return nil, err
		}
	}
	cfg.DNS = primary

	if len(cfg.DNS) == 0 {
		return nil, fmt.Errorf("config: no DNS servers configured and none could be discovered")
	}

	return cfg, nil
}

func parseEndpoints(raw []string) ([]Endpoint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Endpoint, 0, len(raw))
	for _, s := range raw {
		ep, err := ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// discoverPrimary implements the "DNS resolution chain" of spec.md §4.2:
// networkctl, then resolv.conf, then fallback promotion, in that order,
// stopping at the first step that yields a non-empty result.
func discoverPrimary(sources []NameserverSource, fallback []Endpoint) ([]Endpoint, string, error) {
	for _, src := range sources {
		addrs, err := src.Discover()
		if err != nil {
			return nil, "", err
		}
		if len(addrs) > 0 {
			eps, err := parseEndpoints(addrs)
			if err != nil {
				return nil, "", err
			}
			return eps, "", nil
		}
	}

	if len(fallback) > 0 {
		warning := fmt.Sprintf("No DNS configured. Using first FallbackDNS (%s) as primary DNS.", fallback[0].String())
		zlog.Warn(warning)
		return []Endpoint{fallback[0]}, warning, nil
	}

	return nil, "", nil
}
