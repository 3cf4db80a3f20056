// Package logging provides structured logging for the optimization server.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in
	// production.
	DebugLevel LogLevel = "DEBUG"
	// InfoLevel is the default logging priority.
	InfoLevel LogLevel = "INFO"
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel LogLevel = "WARN"
	// ErrorLevel logs are high-priority. If an application is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel LogLevel = "ERROR"
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel LogLevel = "FATAL"
)

var levelRank = map[LogLevel]int{
	DebugLevel: 0,
	InfoLevel:  1,
	WarnLevel:  2,
	ErrorLevel: 3,
	FatalLevel: 4,
}

// Format selects how entries are rendered.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatConsole writes "time LEVEL message key=value ..." lines.
	FormatConsole Format = "console"
)

// Logger represents an active logging object.
type Logger struct {
	level  LogLevel
	format Format
	out    *syncWriter
	fields map[string]interface{}
}

// syncWriter serializes writes from loggers that share an output.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// New creates a new JSON Logger with the specified log level and output.
func New(level LogLevel, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		format: FormatJSON,
		out:    &syncWriter{w: output},
		fields: make(map[string]interface{}),
	}
}

// WithFormat returns a copy of l that renders entries in f.
func (l *Logger) WithFormat(f Format) *Logger {
	c := l.WithFields(nil)
	c.format = f
	return c
}

// Level returns the minimum level l writes.
func (l *Logger) Level() LogLevel {
	return l.level
}

// WithFields returns a new Logger with the specified fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		level:  l.level,
		format: l.format,
		out:    l.out,
		fields: newFields,
	}
}

// WithField returns a new Logger with the specified key-value pair.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns a new Logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// log writes an entry. skip is the number of frames between the caller of
// interest and log; callers that set "caller" in fields pass a negative skip.
func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}, skip int) {
	if !l.shouldLog(level) {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(fields)+4)
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	if skip >= 0 {
		entry["caller"] = caller(skip + 1)
	}

	now := time.Now().UTC()
	var line []byte
	if l.format == FormatConsole {
		line = consoleLine(now, level, msg, entry)
	} else {
		entry["timestamp"] = now.Format(time.RFC3339Nano)
		entry["level"] = level
		entry["message"] = msg

		var err error
		line, err = json.Marshal(entry)
		if err != nil {
			line = consoleLine(now, level, msg, entry)
		} else {
			line = append(line, '\n')
		}
	}
	_, _ = l.out.Write(line)

	if level == FatalLevel {
		os.Exit(1)
	}
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "???:0"
	}
	// Only keep the last two parts of the file path
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func consoleLine(t time.Time, level LogLevel, msg string, fields map[string]interface{}) []byte {
	var b strings.Builder
	b.WriteString(t.Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Fprintf(&b, " %-5s %s", level, msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// shouldLog returns true if the given level should be logged.
func (l *Logger) shouldLog(level LogLevel) bool {
	want, ok := levelRank[level]
	if !ok {
		return false
	}
	current, ok := levelRank[l.level]
	if !ok {
		return false
	}
	return want >= current
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DebugLevel, msg, first(fields), 1)
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(InfoLevel, msg, first(fields), 1)
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WarnLevel, msg, first(fields), 1)
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, msg, first(fields), 1)
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(FatalLevel, msg, first(fields), 1)
}

// CtxLogger is a logger that can be used with context.
type CtxLogger struct {
	*Logger
}

// FromContext returns a logger from the context or a new one if none exists.
func FromContext(ctx context.Context) *CtxLogger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok {
		return logger
	}
	return &CtxLogger{New(InfoLevel, os.Stderr)}
}

// LoggerFrom returns the context's logger, or fallback when none is set.
func LoggerFrom(ctx context.Context, fallback *Logger) *Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok && logger.Logger != nil {
		return logger.Logger
	}
	return fallback
}

// WithContext returns a new context with the logger.
func (l *CtxLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

type ctxLoggerKey struct{}
