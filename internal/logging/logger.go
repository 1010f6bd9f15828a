// Package logging provides structured logging for novelsync with consistent
// formatting and context support. It wraps logrus to provide leveled logging
// with structured key-value pairs for debugging the sync layer.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level represents a log level.
type Level int

const (
	// LevelDebug is for verbose debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general informational messages.
	LevelInfo
	// LevelWarn is for recoverable errors and warnings.
	LevelWarn
	// LevelError is for significant errors that may impact functionality.
	LevelError
)

var logrusLevels = map[Level]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

// Format selects the log line encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger provides structured logging with context.
type Logger struct {
	mu     sync.RWMutex
	base   *logrus.Logger
	fields logrus.Fields
}

var (
	// defaultLogger is the package-level logger.
	defaultLogger = New()
)

// New creates a new Logger with default settings: warn level, text format, stderr.
func New() *Logger {
	base := logrus.New()
	base.Out = os.Stderr
	base.SetLevel(logrus.WarnLevel)
	base.SetFormatter(&logrus.TextFormatter{DisableTimestamp: false, FullTimestamp: true})
	return &Logger{
		base:   base,
		fields: logrus.Fields{},
	}
}

// Default returns the package-level logger.
func Default() *Logger {
	return defaultLogger
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base.SetLevel(logrusLevels[level])
}

// SetOutput sets the log destination.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base.SetOutput(w)
}

// SetFormat switches between text and JSON output.
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch format {
	case FormatJSON:
		l.base.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// With returns a new Logger with an additional context field.
// The child shares output, level and format with its parent.
func (l *Logger) With(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new Logger with multiple additional context fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newFields := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		base:   l.base,
		fields: newFields,
	}
}

// log writes a log entry at the given level.
func (l *Logger) log(level Level, msg string, keyVals ...interface{}) {
	l.mu.RLock()
	base := l.base
	fields := l.fields
	l.mu.RUnlock()

	lvl := logrusLevels[level]
	if !base.IsLevelEnabled(lvl) {
		return
	}

	all := make(logrus.Fields, len(fields)+len(keyVals)/2)
	for k, v := range fields {
		all[k] = v
	}
	for i := 0; i+1 < len(keyVals); i += 2 {
		if key, ok := keyVals[i].(string); ok {
			all[key] = formatValue(keyVals[i+1])
		}
	}

	base.WithFields(all).Log(lvl, msg)
}

// formatValue keeps errors readable in JSON output, where logrus would
// otherwise encode them as empty objects.
func formatValue(v interface{}) interface{} {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keyVals ...interface{}) {
	l.log(LevelDebug, msg, keyVals...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, keyVals ...interface{}) {
	l.log(LevelInfo, msg, keyVals...)
}

// Warn logs at warn level (for recoverable errors).
func (l *Logger) Warn(msg string, keyVals ...interface{}) {
	l.log(LevelWarn, msg, keyVals...)
}

// Error logs at error level (for significant errors).
func (l *Logger) Error(msg string, keyVals ...interface{}) {
	l.log(LevelError, msg, keyVals...)
}

// Package-level functions that use the default logger.

// SetLevel sets the minimum log level for the default logger.
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput sets the output for the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// SetFormat sets the format for the default logger.
func SetFormat(format Format) {
	defaultLogger.SetFormat(format)
}

// With returns a new Logger with additional context from the default logger.
func With(key string, value interface{}) *Logger {
	return defaultLogger.With(key, value)
}

// WithFields returns a new Logger with multiple additional context fields.
func WithFields(fields map[string]interface{}) *Logger {
	return defaultLogger.WithFields(fields)
}

// Debug logs at debug level using the default logger.
func Debug(msg string, keyVals ...interface{}) {
	defaultLogger.Debug(msg, keyVals...)
}

// Info logs at info level using the default logger.
func Info(msg string, keyVals ...interface{}) {
	defaultLogger.Info(msg, keyVals...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, keyVals ...interface{}) {
	defaultLogger.Warn(msg, keyVals...)
}

// Error logs at error level using the default logger.
func Error(msg string, keyVals ...interface{}) {
	defaultLogger.Error(msg, keyVals...)
}
