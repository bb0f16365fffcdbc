// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

var levels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// UnmarshalText implements encoding.TextUnmarshaler. Unlike Setup, which
// falls back to info, it rejects unknown levels.
func (l *LogLevel) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	if _, ok := levels[name]; !ok {
		return fmt.Errorf("unknown log level %q", text)
	}
	*l = LogLevel(name)
	return nil
}

func parseLevel(level LogLevel) zerolog.Level {
	if l, ok := levels[strings.ToLower(string(level))]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForCollection returns logger scoped to one synchronizer instance.
func ForCollection(logger zerolog.Logger, collection, instance string) zerolog.Logger {
	return logger.With().
		Str("collection", collection).
		Str("instance", instance).
		Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Page requests and merges (offset, limit, returned)
//   - Cache operations (hit/miss, key, TTL)
//   - Stale responses discarded after a refresh
//   - Backfill decisions (visible count, rounds)
//
// Info: Normal operation events
//   - Collection refreshed
//   - Backfill round limit reached
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Error budget low (throttling active)
//   - Retry attempts
//   - Cache or invalidation errors (fallback to the source)
//
// Error: Error conditions requiring attention
//   - Failed page fetches (reported through the Notifier)
//   - Error budget spent (requests blocked)
//   - Configuration errors
//
// Context Fields:
//   - collection: Collection name (movies, friends, ...)
//   - instance: Synchronizer instance id
//   - generation: Refresh generation of a request
//   - offset, limit: Page request bounds
//   - returned: Items in the page response
//   - cursor: Offset of the next page
//   - has_more: Whether more pages are expected
//   - status: Collection status or HTTP status code
//   - error_class: Error classification (transport, shape, client, server, rate_limit, network)
//   - duration: Request duration
