package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// GlobalLogger describes a Logger that is disabled by default. Consumers of this package should derive their own
// sub-logger from it so that log output is attributable to the component that emitted it.
var GlobalLogger = NewLogger(zerolog.Disabled)

// Logger wraps a zerolog.Logger and provides a variadic logging API where trailing arguments may include an error,
// which is attached to the log event rather than concatenated into the message.
type Logger struct {
	// level describes the log level
	level zerolog.Level

	// logger describes the underlying zerolog logger used to emit events.
	logger zerolog.Logger
}

// NewLogger will create a new Logger with the provided log level. If no writers are provided, logs are written to
// standard error.
func NewLogger(level zerolog.Level, writers ...io.Writer) *Logger {
	var writer io.Writer = os.Stderr
	if len(writers) > 0 {
		writer = zerolog.MultiLevelWriter(writers...)
	}
	return &Logger{
		level:  level,
		logger: zerolog.New(writer).Level(level).With().Timestamp().Logger(),
	}
}

// NewSubLogger will create a new Logger with unique context in the form of a key-value pair. The expected use of this
// function is for each package or component to have its own logger so that filtering of logs is "grep-able" by key.
func (l *Logger) NewSubLogger(key string, value string) *Logger {
	return &Logger{
		level:  l.level,
		logger: l.logger.With().Str(key, value).Logger(),
	}
}

// Level will get the log level of the Logger
func (l *Logger) Level() zerolog.Level {
	return l.level
}

// SetLevel will update the log level of the Logger
func (l *Logger) SetLevel(level zerolog.Level) {
	l.level = level
	l.logger = l.logger.Level(level)
}

// Trace will log a trace event
func (l *Logger) Trace(args ...any) {
	l.emit(l.logger.Trace(), args...)
}

// Debug will log a debug event
func (l *Logger) Debug(args ...any) {
	l.emit(l.logger.Debug(), args...)
}

// Info will log an info event
func (l *Logger) Info(args ...any) {
	l.emit(l.logger.Info(), args...)
}

// Warn will log a warning event
func (l *Logger) Warn(args ...any) {
	l.emit(l.logger.Warn(), args...)
}

// Error will log an error event
func (l *Logger) Error(args ...any) {
	l.emit(l.logger.Error(), args...)
}

// emit splits the provided arguments into message components and at most one error, chains the error onto the event,
// and sends it off.
func (l *Logger) emit(event *zerolog.Event, args ...any) {
	var chainedErr error
	msgArgs := make([]any, 0, len(args))
	for _, arg := range args {
		if err, ok := arg.(error); ok && chainedErr == nil {
			chainedErr = err
			continue
		}
		msgArgs = append(msgArgs, arg)
	}
	if chainedErr != nil {
		event = event.Err(chainedErr)
	}
	event.Msg(fmt.Sprint(msgArgs...))
}
