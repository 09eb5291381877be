// Package logx provides structured logging for the trafficwatch daemon
package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger emits one JSON object per line with a timestamp, level, message
// and any structured fields attached via With or passed as key/value pairs.
type Logger struct {
	level  Level
	out    io.Writer
	mu     *sync.Mutex
	fields map[string]interface{}
}

// New creates a logger writing to stdout at the given level
func New(levelStr string) *Logger {
	return NewWithWriter(levelStr, os.Stdout)
}

// NewWithWriter creates a logger writing to the given writer. Useful for tests.
func NewWithWriter(levelStr string, out io.Writer) *Logger {
	return &Logger{
		level:  parseLevel(levelStr),
		out:    out,
		mu:     &sync.Mutex{},
		fields: nil,
	}
}

// parseLevel converts a level string to a Level, defaulting to info
func parseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func levelString(level Level) string {
	switch level {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// With returns a child logger that always includes the given key/value pairs.
// The parent is not modified.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	child := &Logger{
		level:  l.level,
		out:    l.out,
		mu:     l.mu,
		fields: make(map[string]interface{}, len(l.fields)+len(keysAndValues)/2),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	appendPairs(child.fields, keysAndValues)
	return child
}

func appendPairs(dst map[string]interface{}, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		dst[key] = keysAndValues[i+1]
	}
}

func (l *Logger) log(level Level, msg string, keysAndValues ...interface{}) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(keysAndValues)/2+3)
	for k, v := range l.fields {
		entry[k] = v
	}
	appendPairs(entry, keysAndValues)
	entry["ts"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = levelString(level)
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		// Fall back to a plain line if a field is not serializable
		data = []byte(fmt.Sprintf(`{"ts":%q,"level":%q,"msg":%q,"log_error":%q}`,
			time.Now().UTC().Format(time.RFC3339), levelString(level), msg, err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(data, '\n'))
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(DebugLevel, msg, keysAndValues...)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(InfoLevel, msg, keysAndValues...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(WarnLevel, msg, keysAndValues...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(ErrorLevel, msg, keysAndValues...)
}
