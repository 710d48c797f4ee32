// Package logger provides structured logging with console and optional
// file output.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Options control log destinations and verbosity.
type Options struct {
	// Level is a zerolog level name ("debug", "info", ...). Invalid or
	// empty values fall back to info.
	Level string
	// File appends logs to the given path when non-empty.
	File string
	// Quiet disables console output; file output is unaffected.
	Quiet bool
	// Debug forces the debug level regardless of Level.
	Debug bool
}

// Logger wraps zerolog.
type Logger struct {
	zerolog.Logger
}

// New creates a logger from the given options.
func New(opts Options) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}
	if opts.Debug {
		lvl = zerolog.DebugLevel
	}

	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return &Logger{l}, nil
}

// Nop returns a logger that discards everything. Used by tests and as
// the default when a component receives no logger.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// Component returns a child logger tagged with a component name, so log
// lines from the listener, crawler and coordinator are distinguishable.
func (l *Logger) Component(name string) *Logger {
	child := l.With().Str("component", name).Logger()
	return &Logger{child}
}
