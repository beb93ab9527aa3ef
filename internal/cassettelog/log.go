// Package cassettelog provides a thin wrapper around the Go standard
// library logger. It adds:
//   - Named (service) loggers via ForService(name)
//   - Automatic message prefix: "[name>]"
//   - Warn and Debug levels (Info is the default level, Error is also provided)
//   - Ability to enable debug globally or selectively per service
//   - Per-call structured fields via WithField/WithFields, appended to the
//     line in logfmt style, for correlating a build or a connection across
//     several log lines (build_id, session_id, sub_id)
//
// Adapted from the teacher's own pkg/log, renamed to this project's
// services: builder, loader, deck, stage, runtime. The field support below
// has no teacher counterpart: builder and deck both tag related log lines
// with an id (build_id, session_id) through WithField, as a queryable
// key=value pair instead of prose baked into the message.
//
// Usage:
//
//	l := cassettelog.ForService("builder")
//	l.Infof("compiled %s (%d bytes)", path, size)
//	l.Warnf("dropping unknown export %q", name)
//	l.Debugf("render context: %+v", ctx) // only prints if debug enabled
//
//	build := l.WithField("build_id", buildID)
//	build.Infof("wrote %s (%d events)", path, n)
//
// To enable debug globally:
//
//	cassettelog.SetGlobalDebug(true)
//
// To enable debug for a specific service only:
//
//	cassettelog.EnableDebugFor("loader")
package cassettelog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Logger represents a named logger with helper methods.
type Logger struct {
	name     string
	std      *log.Logger
	fields   map[string]any
	warnOnce *sync.Once
}

// writerHolder wraps an io.Writer so atomic.Value always stores the same
// concrete type, avoiding an "inconsistently typed value" panic when
// SetOutput swaps between e.g. *os.File and *bytes.Buffer.
type writerHolder struct {
	w io.Writer
}

var (
	globalDebug  atomic.Bool
	serviceDebug sync.Map // map[string]*atomic.Bool
	loggers      sync.Map // map[string]*Logger
	outputWriter atomic.Value
)

func init() {
	outputWriter.Store(writerHolder{w: os.Stderr})
}

// ForService returns (and memoizes) a named logger for the given
// service: "builder", "loader", "deck", "stage", "runtime", "cli".
func ForService(name string) *Logger {
	if name == "" {
		name = "unknown"
	}
	if l, ok := loggers.Load(name); ok {
		return l.(*Logger)
	}
	current := outputWriter.Load().(writerHolder).w
	std := log.New(current, "", log.LstdFlags|log.Lmicroseconds)
	logger := &Logger{name: name, std: std, warnOnce: &sync.Once{}}
	actual, _ := loggers.LoadOrStore(name, logger)
	return actual.(*Logger)
}

// WithField returns a derived logger that appends key=value (logfmt style)
// to every line it logs, in addition to this logger's own fields. The
// parent logger is unmodified; this is for tagging one build or one
// connection's log lines with a correlating id (build_id, session_id,
// sub_id) without baking the id into every format string by hand.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

// WithFields is WithField for more than one key at once.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{name: l.name, std: l.std, fields: merged, warnOnce: l.warnOnce}
}

// fieldSuffix renders this logger's fields as a sorted, space-separated
// "key=value" tail, or "" when there are none. Sorted so the same field
// set always renders identically, regardless of map iteration order.
func (l *Logger) fieldSuffix() string {
	if len(l.fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, l.fields[k])
	}
	return " " + strings.Join(parts, " ")
}

// SetGlobalDebug enables or disables debug logging globally.
func SetGlobalDebug(enabled bool) {
	globalDebug.Store(enabled)
}

// GlobalDebug returns whether global debug logging is enabled.
func GlobalDebug() bool {
	return globalDebug.Load()
}

// EnableDebugFor enables debug logging for a specific service.
func EnableDebugFor(name string) {
	if name == "" {
		return
	}
	val, _ := serviceDebug.LoadOrStore(name, &atomic.Bool{})
	val.(*atomic.Bool).Store(true)
}

// DisableDebugFor disables debug logging for a specific service.
func DisableDebugFor(name string) {
	if name == "" {
		return
	}
	if val, ok := serviceDebug.Load(name); ok {
		val.(*atomic.Bool).Store(false)
	}
}

// DebugEnabledFor returns whether debug is enabled for the given service
// (either globally or specifically for it).
func DebugEnabledFor(name string) bool {
	if globalDebug.Load() {
		return true
	}
	if val, ok := serviceDebug.Load(name); ok {
		return val.(*atomic.Bool).Load()
	}
	return false
}

// SetOutput sets the output writer for all subsequently created loggers.
// Existing loggers also adopt the new writer.
func SetOutput(w io.Writer) {
	if w == nil {
		return
	}
	outputWriter.Store(writerHolder{w: w})
	loggers.Range(func(_, v any) bool {
		l := v.(*Logger)
		l.std.SetOutput(w)
		return true
	})
}

func (l *Logger) prefix() string {
	return "[" + l.name + ">]"
}

func (l *Logger) logInternal(level, msg string) {
	if level != "" {
		level = level + " "
	}
	l.std.Println(level + l.prefix() + " " + msg + l.fieldSuffix())
}

// Infof logs an informational message with fmt.Sprintf semantics.
func (l *Logger) Infof(format string, args ...any) {
	l.logInternal(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf logs a warning message.
func (l *Logger) Warnf(format string, args ...any) {
	l.warnOnce.Do(func() {
		l.logInternal(LevelWarn, "warnings active for this logger")
	})
	l.logInternal(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf logs an error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.logInternal(LevelError, fmt.Sprintf(format, args...))
}

// Debugf logs a debug message if debug is enabled globally or for this
// logger's service.
func (l *Logger) Debugf(format string, args ...any) {
	if !DebugEnabledFor(l.name) {
		return
	}
	l.logInternal(LevelDebug, fmt.Sprintf(format, args...))
}

const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelDebug = "DEBUG"
)
