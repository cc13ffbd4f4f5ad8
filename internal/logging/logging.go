// Package logging adapts zerolog to the small logger interface used by the
// keystore and the command-line tool.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Level is a log severity.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Logger writes leveled messages. The message closure only runs when the
// level is enabled, so callers can format expensive values freely.
type Logger interface {
	Log(level Level, msg func() string)
	With(key string, value any) Logger
}

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// Format is "console" for human-readable output or "json".
	Format string
}

// New returns a Logger writing to w.
func New(w io.Writer, opts Options) (Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	switch opts.Format {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05"}
	case "json":
	default:
		return nil, fmt.Errorf("log format %q: want console or json", opts.Format)
	}

	return FromZerolog(zerolog.New(w).Level(level).With().Timestamp().Logger()), nil
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(z zerolog.Logger) Logger {
	return &zerologLogger{z: z}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return FromZerolog(zerolog.Nop())
}

type zerologLogger struct {
	z zerolog.Logger
}

func (l *zerologLogger) Log(level Level, msg func() string) {
	ev := l.z.WithLevel(level)
	if !ev.Enabled() {
		return
	}
	ev.Msg(msg())
}

func (l *zerologLogger) With(key string, value any) Logger {
	return &zerologLogger{z: l.z.With().Interface(key, value).Logger()}
}
