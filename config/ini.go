package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/semihalev/zlog/v2"
)

// rawSettings accumulates the effect of parsing the main file followed
// by its drop-ins, before endpoint parsing and the DNS resolution chain
// run. List keys append across files; scalar keys are last-one-wins.
type rawSettings struct {
	dns                  []string
	fallbackDNS          []string
	dnsStubListenerExtra []string

	cache           *bool
	dnsStubListener *bool
	bindAddress     *string
	metricsAddress  *string
}

// parseFile parses one resolved.conf-style file into dst, applying only
// lines inside a "[Resolve]" section (case-insensitive).
func parseFile(path string, dst *rawSettings) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return parseReader(f, path, dst)
}

func parseReader(r io.Reader, sourceName string, dst *rawSettings) error {
	scanner := bufio.NewScanner(r)

	inResolveSection := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.TrimSpace(line[1 : len(line)-1])
			inResolveSection = strings.EqualFold(section, "Resolve")
			continue
		}

		if !inResolveSection {
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}

		applyKey(dst, key, value, sourceName)
	}

	return scanner.Err()
}

func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func applyKey(dst *rawSettings, key, value, sourceName string) {
	switch key {
	case "DNS":
		dst.dns = append(dst.dns, strings.Fields(value)...)
	case "FallbackDNS":
		dst.fallbackDNS = append(dst.fallbackDNS, strings.Fields(value)...)
	case "DNSStubListenerExtra":
		dst.dnsStubListenerExtra = append(dst.dnsStubListenerExtra, strings.Fields(value)...)
	case "Cache":
		if strings.TrimSpace(value) == "" {
			return
		}
		b := parseBool(value)
		dst.cache = &b
	case "DNSStubListener":
		if strings.TrimSpace(value) == "" {
			return
		}
		b := parseBool(value)
		dst.dnsStubListener = &b
	case "BindAddress":
		v := value
		dst.bindAddress = &v
	case "MetricsAddress":
		v := value
		dst.metricsAddress = &v
	default:
		zlog.Warn("Unknown config key, ignoring", "key", key, "file", sourceName)
	}
}

// parseBool implements resolved.conf's boolean encoding: "yes"/"true"/"1"
// is true, everything else (including an empty value) is false.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}

// dropins returns the *.conf files under dir, sorted lexicographically
// by filename, so later files can append to lists and overwrite scalars
// set by earlier ones.
func dropins(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// parseChain runs the main file then its drop-ins in order, merging
// into one rawSettings value per the accumulation rules on rawSettings.
func parseChain(mainPath, dropinDir string) (*rawSettings, error) {
	settings := &rawSettings{}

	if _, err := os.Stat(mainPath); err == nil {
		if err := parseFile(mainPath, settings); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", mainPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", mainPath, err)
	}

	files, err := dropins(dropinDir)
	if err != nil {
		return nil, fmt.Errorf("config: listing drop-ins in %s: %w", dropinDir, err)
	}

	for _, f := range files {
		if err := parseFile(f, settings); err != nil {
			return nil, fmt.Errorf("config: parsing drop-in %s: %w", f, err)
		}
	}

	return settings, nil
}
