// Package netlog provides the structured logger every other package
// in this module accepts as a dependency, shaped like
// device.Logger from the stack this module is built on but backed by
// zerolog instead of the standard library's log package, so every
// call site gets levelled, field-structured output for free.
package netlog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the narrow levelled-logging interface every component in
// this module depends on, mirroring the shape used throughout the
// stack this module is built on (Debug/Info/Error, each with a
// printf-style variant) so call sites read identically regardless of
// which concrete logger is wired in.
type Logger interface {
	Debug(v ...interface{})
	Debugf(f string, v ...interface{})
	Info(v ...interface{})
	Infof(f string, v ...interface{})
	Error(v ...interface{})
	Errorf(f string, v ...interface{})

	// With returns a Logger that annotates every subsequent line with
	// the given key/value pair, used to tag log lines with a peer
	// identity or session id without threading that context through
	// every call site.
	With(key string, value interface{}) Logger
}

type zeroLogger struct {
	l zerolog.Logger
}

// New constructs a Logger writing human-readable, timestamped lines to
// w (os.Stderr is the usual choice; tests pass io.Discard).
func New(w io.Writer, level zerolog.Level) Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	l := zerolog.New(console).Level(level).With().Timestamp().Logger()
	return zeroLogger{l: l}
}

// Default constructs a Logger writing to os.Stderr at info level, the
// usual choice for an embedding application that hasn't configured
// anything more specific.
func Default() Logger {
	return New(os.Stderr, zerolog.InfoLevel)
}

func (z zeroLogger) Debug(v ...interface{})            { z.l.Debug().Msg(sprint(v)) }
func (z zeroLogger) Debugf(f string, v ...interface{}) { z.l.Debug().Msgf(f, v...) }
func (z zeroLogger) Info(v ...interface{})             { z.l.Info().Msg(sprint(v)) }
func (z zeroLogger) Infof(f string, v ...interface{})  { z.l.Info().Msgf(f, v...) }
func (z zeroLogger) Error(v ...interface{})            { z.l.Error().Msg(sprint(v)) }
func (z zeroLogger) Errorf(f string, v ...interface{}) { z.l.Error().Msgf(f, v...) }

func (z zeroLogger) With(key string, value interface{}) Logger {
	return zeroLogger{l: z.l.With().Interface(key, value).Logger()}
}

func sprint(v []interface{}) string {
	if len(v) == 1 {
		if s, ok := v[0].(string); ok {
			return s
		}
	}
	return fmt.Sprint(v...)
}
