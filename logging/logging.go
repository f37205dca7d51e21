// Package logging wires up the structured logger used across the
// proxy, following the level/writer setup conventions shared by the
// rest of the stack's middlewares.
package logging

import (
	"strings"

	"github.com/semihalev/zlog/v2"
)

// Setup installs a structured stdout logger at the given level name
// ("debug", "info", "warn", "error"; case-insensitive, default "info")
// as the package-wide default logger.
func Setup(level string) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	logger.SetLevel(parseLevel(level))
	zlog.SetDefault(logger)
}

func parseLevel(level string) zlog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zlog.LevelDebug
	case "warn", "warning":
		return zlog.LevelWarn
	case "error":
		return zlog.LevelError
	default:
		return zlog.LevelInfo
	}
}
