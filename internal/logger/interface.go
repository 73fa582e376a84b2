package logger

import (
	"github.com/rs/zerolog"

	"codeberg.org/mutker/sensord/internal/errors"
)

// Logger defines the interface for logging operations. Components that
// log take it injected so tests can silence them.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
}

// Default returns a Logger backed by the package logger.
func Default() Logger {
	return stdLogger{}
}

type stdLogger struct{}

func (stdLogger) Debug() *LogEvent { return Debug() }
func (stdLogger) Info() *LogEvent  { return Info() }
func (stdLogger) Warn() *LogEvent  { return Warn() }
func (stdLogger) Error() *LogEvent { return Error() }

func (stdLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return ErrorWithCode(err)
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

var nop = zerolog.Nop()

type nopLogger struct{}

func (nopLogger) Debug() *LogEvent { return &LogEvent{nop.Debug()} }
func (nopLogger) Info() *LogEvent  { return &LogEvent{nop.Info()} }
func (nopLogger) Warn() *LogEvent  { return &LogEvent{nop.Warn()} }
func (nopLogger) Error() *LogEvent { return &LogEvent{nop.Error()} }

func (nopLogger) ErrorWithCode(_ errors.Error) *LogEvent {
	return &LogEvent{nop.Error()}
}
