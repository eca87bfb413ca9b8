package pulsar

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// LogLevel represents the logging level.
type LogLevel int32

const (
	// LogLevelDebug is the debug log level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the info log level.
	LogLevelInfo
	// LogLevelWarn is the warn log level.
	LogLevelWarn
	// LogLevelError is the error log level.
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// LogFields represents key-value pairs for structured logging.
type LogFields map[string]any

// Logger defines the interface for logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, fields LogFields)

	// Info logs an info message.
	Info(msg string, fields LogFields)

	// Warn logs a warning message.
	Warn(msg string, fields LogFields)

	// Error logs an error message.
	Error(msg string, fields LogFields)

	// WithFields returns a new logger with the given fields added.
	WithFields(fields LogFields) Logger

	// Level returns the current log level.
	Level() LogLevel

	// SetLevel sets the log level.
	SetLevel(level LogLevel)
}

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

// Debug does nothing.
func (l *NoOpLogger) Debug(string, LogFields) {}

// Info does nothing.
func (l *NoOpLogger) Info(string, LogFields) {}

// Warn does nothing.
func (l *NoOpLogger) Warn(string, LogFields) {}

// Error does nothing.
func (l *NoOpLogger) Error(string, LogFields) {}

// WithFields returns the logger unchanged.
func (l *NoOpLogger) WithFields(LogFields) Logger { return l }

// Level returns LogLevelNone.
func (l *NoOpLogger) Level() LogLevel { return LogLevelNone }

// SetLevel does nothing.
func (l *NoOpLogger) SetLevel(LogLevel) {}

// StdLogger writes structured log lines through the standard library logger.
type StdLogger struct {
	out    *log.Logger
	level  atomic.Int32
	fields LogFields
}

// NewStdLogger creates a logger writing to stderr at the given level.
func NewStdLogger(level LogLevel) *StdLogger {
	l := &StdLogger{out: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
	l.level.Store(int32(level))
	return l
}

// Debug logs a debug message.
func (l *StdLogger) Debug(msg string, fields LogFields) { l.log(LogLevelDebug, msg, fields) }

// Info logs an info message.
func (l *StdLogger) Info(msg string, fields LogFields) { l.log(LogLevelInfo, msg, fields) }

// Warn logs a warning message.
func (l *StdLogger) Warn(msg string, fields LogFields) { l.log(LogLevelWarn, msg, fields) }

// Error logs an error message.
func (l *StdLogger) Error(msg string, fields LogFields) { l.log(LogLevelError, msg, fields) }

// WithFields returns a new logger with the given fields added to every line.
func (l *StdLogger) WithFields(fields LogFields) Logger {
	merged := make(LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	child := &StdLogger{out: l.out, fields: merged}
	child.level.Store(l.level.Load())
	return child
}

// Level returns the current log level.
func (l *StdLogger) Level() LogLevel { return LogLevel(l.level.Load()) }

// SetLevel sets the log level.
func (l *StdLogger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

func (l *StdLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < l.Level() {
		return
	}
	var b strings.Builder
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)
	writeFields(&b, l.fields)
	writeFields(&b, fields)
	l.out.Println(b.String())
}

func writeFields(b *strings.Builder, fields LogFields) {
	if len(fields) == 0 {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, fields[k])
	}
}
