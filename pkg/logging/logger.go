// Package logging configures zerolog for the bridge. Setup installs the
// global logger once; engines derive component-tagged children from it so
// every line can be filtered by the part of the pipeline that wrote it.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel selects the minimum severity that reaches the output.
type LogLevel string

const (
	// LevelDebug includes per-call detail such as round trips and flushes.
	LevelDebug LogLevel = "debug"

	// LevelInfo includes session lifecycle events. The default.
	LevelInfo LogLevel = "info"

	// LevelWarn includes retries and degraded-mode activity.
	LevelWarn LogLevel = "warn"

	// LevelError includes only terminal failures.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to output.
	Level LogLevel

	// Pretty switches from JSON lines to the human-readable console
	// writer. Off by default; log collectors want JSON.
	Pretty bool

	// Output is the destination writer. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the production logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// output resolves the writer, wrapping it for console mode.
func (c Config) output() io.Writer {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}
	if c.Pretty {
		return zerolog.ConsoleWriter{Out: out}
	}
	return out
}

// Setup installs the global zerolog logger per cfg and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	logger := zerolog.New(cfg.output()).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// parseLevel maps a LogLevel to zerolog's level, defaulting to info for
// anything unrecognized.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a child of the global logger tagged with a component
// field. Engines that are handed a logger explicitly tag it themselves; this
// is for code paths that only have the global one.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual round trips (service, status, duration)
//   - Page fetches and batch flush sizes
//   - Session finalization
//
// Info: Normal operation events
//   - Session establishment and re-authentication
//   - Registry startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and their wait tiers
//   - Page retries granted by an error handler
//   - Batch group rejections (fallback active)
//   - Failed server-side logouts
//
// Error: Error conditions requiring attention
//   - Requests failed after retries
//   - Entities rejected even individually
//   - Dead-letter queue write failures
//
// Context Fields:
//   - service: gateway service name
//   - token: session token
//   - kind: failure classification
//   - attempt: retry attempt number
//   - wait: retry wait duration
//   - page: zero-based page number
//   - entity: gateway entity name
