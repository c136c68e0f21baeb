// Package logging builds the structured loggers used across the
// scheduler, following the console-logger shape of the workflow engine
// this project grew out of, backed by zerolog instead of the standard
// library logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to
	// "info" for an empty string.
	Level string
	// Pretty enables the human-readable console writer instead of raw
	// JSON lines; use for local runs, leave off in production.
	Pretty bool
	// Writer overrides the destination; defaults to os.Stdout.
	Writer io.Writer
}

// New builds a zerolog.Logger per cfg. The graph, its repeaters and the
// websocket observer take a logger explicitly rather than reaching for a
// package global, so a single process can run multiple
// independently-configured graphs.
func New(cfg Config) zerolog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// Nop returns a logger that discards everything, for tests and callers
// that opt out of logging entirely.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
