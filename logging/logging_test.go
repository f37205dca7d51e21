package logging

import (
	"testing"

	"github.com/semihalev/zlog/v2"
	"github.com/stretchr/testify/assert"
)

func Test_parseLevel(t *testing.T) {
	cases := map[string]zlog.Level{
		"debug":   zlog.LevelDebug,
		"DEBUG":   zlog.LevelDebug,
		"warn":    zlog.LevelWarn,
		"warning": zlog.LevelWarn,
		"error":   zlog.LevelError,
		"info":    zlog.LevelInfo,
		"":        zlog.LevelInfo,
		"bogus":   zlog.LevelInfo,
	}

	for input, want := range cases {
		assert.Equal(t, want, parseLevel(input), "input %q", input)
	}
}

func Test_Setup_doesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { Setup("debug") })
}
