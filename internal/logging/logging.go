// Package logging builds the zerolog.Logger every other package is
// handed through constructor injection — the SDK never reaches for a
// global logger (SPEC_FULL.md §4.15). Grounded on the teacher's
// NewLogger (src/logger.go), adapted from a server's fixed
// "ws-server" service tag to a caller-supplied component name.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's LogLevel constants.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format mirrors the teacher's LogFormat constants.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config configures New.
type Config struct {
	Level     Level
	Format    Format
	Component string
}

// New builds a logger with timestamp and caller info, matching the
// teacher's NewLogger shape but tagged with the caller's component name
// (e.g. "session", "transport") instead of a single fixed service name.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	component := cfg.Component
	if component == "" {
		component = "swiftim"
	}

	return zerolog.New(output).With().Timestamp().Caller().Str("component", component).Logger()
}
