// Package logging defines the structured Logger every component takes,
// grounded on the go-kit style Logger interface the teacher exposes from
// libs/log, backed here by zerolog rather than go-kit's own log package.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is what any component in this module should take. Keyvals are
// alternating key, value pairs appended as structured fields.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	// With returns a new Logger with keyvals permanently attached.
	With(keyvals ...interface{}) Logger
}

type zeroLogger struct {
	l zerolog.Logger
}

// New returns a Logger that writes leveled, structured events to w.
// level is one of "debug", "info", "error" (anything else defaults to "info").
func New(w io.Writer, level string) Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	l := zerolog.New(w).With().Timestamp().Logger()
	switch level {
	case "debug":
		l = l.Level(zerolog.DebugLevel)
	case "error":
		l = l.Level(zerolog.ErrorLevel)
	default:
		l = l.Level(zerolog.InfoLevel)
	}
	return &zeroLogger{l: l}
}

// NewDefault returns a logger writing to stderr at info level.
func NewDefault() Logger {
	return New(os.Stderr, "info")
}

// NewNop returns a Logger that discards everything, used in tests that
// don't care about log output.
func NewNop() Logger {
	return &zeroLogger{l: zerolog.Nop()}
}

func (z *zeroLogger) event(e *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keyvals[i+1])
	}
	e.Msg(msg)
}

func (z *zeroLogger) Debug(msg string, keyvals ...interface{}) { z.event(z.l.Debug(), msg, keyvals) }
func (z *zeroLogger) Info(msg string, keyvals ...interface{})  { z.event(z.l.Info(), msg, keyvals) }
func (z *zeroLogger) Error(msg string, keyvals ...interface{}) { z.event(z.l.Error(), msg, keyvals) }

func (z *zeroLogger) With(keyvals ...interface{}) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return &zeroLogger{l: ctx.Logger()}
}

// AllowLevel parses a verbosity in [0,2] into a level name, grounded on the
// --verbose flag handling in cmd/tendermint/commands/light.go.
func AllowLevel(verbosity int) string {
	switch {
	case verbosity >= 2:
		return "debug"
	case verbosity <= 0:
		return "error"
	default:
		return "info"
	}
}
