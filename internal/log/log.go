// Package log is a thin leveled-logging wrapper used by store and pthm
// for the same kind of terse operational messages the example service
// packages log from their core/runtime layers: create, mark-for-update,
// remove, split, and merge.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with four printf-style levels; PTHM's
// components log at Debug and Info.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger writing zerolog's JSON lines to stderr, tagged
// with name (e.g. "store", "pthm").
func New(name string) *Logger {
	return NewWriter(os.Stderr, name)
}

// NewWriter builds a Logger writing to an arbitrary writer, useful for
// tests that want to assert on log output.
func NewWriter(w io.Writer, name string) *Logger {
	zl := zerolog.New(w).With().Timestamp().Str("component", name).Logger()
	return &Logger{zl: zl}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}
