package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_resolvConfSource_skipsLoopback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("nameserver 127.0.0.53\nnameserver 9.9.9.9\nnameserver ::1\n"), 0o644))

	src := resolvConfSource{path: path}
	addrs, err := src.Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{"9.9.9.9"}, addrs)
}

func Test_resolvConfSource_missingFile(t *testing.T) {
	src := resolvConfSource{path: "/nonexistent/resolv.conf"}
	addrs, err := src.Discover()
	require.NoError(t, err)
	assert.Empty(t, addrs)
}
