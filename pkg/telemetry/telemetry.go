// Package telemetry wraps the standard library's log package with the
// small amount of structure identitygraphd needs: a level, a component
// tag, and key/value fields appended to the message. It is not a
// logging framework — there is exactly one output format, text lines to
// an io.Writer, matching how the rest of this module's dependency graph
// logs (see pkg/storage/badger.go's log.Printf calls in the reference
// this module was built from).
package telemetry

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level is a logging verbosity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel parses "debug", "info", "warn", or "error" (any case).
// Unrecognized input defaults to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes leveled, component-tagged log lines.
type Logger struct {
	component string
	minLevel  Level
	std       *log.Logger
}

// New builds a Logger for component, writing lines at minLevel or
// above to w using the standard library's date/time log flags.
func New(w io.Writer, component string, minLevel Level) *Logger {
	return &Logger{
		component: component,
		minLevel:  minLevel,
		std:       log.New(w, "", log.LstdFlags),
	}
}

// Default builds a Logger writing to stderr for component, at the
// level named by the IDENTITYGRAPH_LOG_LEVEL convention (pkg/config).
func Default(component string, levelName string) *Logger {
	return New(os.Stderr, component, ParseLevel(levelName))
}

// With returns a Logger for a sub-component, e.g. logger.With("tracker").
func (l *Logger) With(component string) *Logger {
	return &Logger{component: l.component + "." + component, minLevel: l.minLevel, std: l.std}
}

func (l *Logger) log(level Level, msg string, fields ...any) {
	if level < l.minLevel {
		return
	}
	l.std.Printf("[%s] %s %s%s", level, l.component, msg, formatFields(fields))
}

// Debug logs at LevelDebug. fields is a flat key, value, key, value...
// list appended to the message as k=v pairs.
func (l *Logger) Debug(msg string, fields ...any) { l.log(LevelDebug, msg, fields...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, fields ...any) { l.log(LevelInfo, msg, fields...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, fields ...any) { l.log(LevelWarn, msg, fields...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, fields ...any) { l.log(LevelError, msg, fields...) }

func formatFields(fields []any) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		b.WriteByte(' ')
		fmt.Fprintf(&b, "%v=%v", fields[i], fields[i+1])
	}
	return b.String()
}
