package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Watcher_currentReturnsSeedBeforeAnyReload(t *testing.T) {
	dir := t.TempDir()
	mainPath := writeFile(t, dir, "resolved.conf", "[Resolve]\nDNS=1.1.1.1\n")

	cfg, err := LoadWithSources(mainPath, filepath.Join(dir, "resolved.conf.d"), filepath.Join(dir, "resolv.conf"))
	require.NoError(t, err)

	w, err := NewWatcher(cfg)
	require.NoError(t, err)
	defer w.Close()

	assert.Same(t, cfg, w.Current())
}

func Test_Watcher_reloadsOnFileWriteAndNotifiesOnReload(t *testing.T) {
	dir := t.TempDir()
	mainPath := writeFile(t, dir, "resolved.conf", "[Resolve]\nDNS=1.1.1.1\n")

	cfg, err := LoadWithSources(mainPath, filepath.Join(dir, "resolved.conf.d"), filepath.Join(dir, "resolv.conf"))
	require.NoError(t, err)

	w, err := NewWatcher(cfg)
	require.NoError(t, err)
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(next *Config) { reloaded <- next })

	require.NoError(t, os.WriteFile(mainPath, []byte("[Resolve]\nDNS=8.8.8.8\n"), 0o644))

	select {
	case next := <-reloaded:
		assert.Equal(t, []Endpoint{{Host: "8.8.8.8", Port: "53"}}, next.DNS)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	assert.Equal(t, []Endpoint{{Host: "8.8.8.8", Port: "53"}}, w.Current().DNS)
}

// Test_Watcher_failedReloadKeepsPreviousConfig covers testable property
// 8: an edit that would leave the effective configuration with no DNS
// servers at all must not replace the previously active configuration,
// and must not fire OnReload.
func Test_Watcher_failedReloadKeepsPreviousConfig(t *testing.T) {
	dir := t.TempDir()
	mainPath := writeFile(t, dir, "resolved.conf", "[Resolve]\nDNS=1.1.1.1\n")

	cfg, err := LoadWithSources(mainPath, filepath.Join(dir, "resolved.conf.d"), filepath.Join(dir, "resolv.conf"))
	require.NoError(t, err)

	w, err := NewWatcher(cfg)
	require.NoError(t, err)
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(next *Config) { reloaded <- next })

	require.NoError(t, os.WriteFile(mainPath, []byte("[Resolve]\n"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("OnReload must not fire for a reload that fails to produce a valid configuration")
	case <-time.After(300 * time.Millisecond):
	}

	assert.Equal(t, []Endpoint{{Host: "1.1.1.1", Port: "53"}}, w.Current().DNS)
}

func Test_Watcher_closeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	mainPath := writeFile(t, dir, "resolved.conf", "[Resolve]\nDNS=1.1.1.1\n")

	cfg, err := LoadWithSources(mainPath, filepath.Join(dir, "resolved.conf.d"), filepath.Join(dir, "resolv.conf"))
	require.NoError(t, err)

	w, err := NewWatcher(cfg)
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
