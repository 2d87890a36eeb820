// Structured logging for the sensor hub driver
//
// Provides a leveled logger with:
// - Log levels (TRACE, DEBUG, INFO, WARN, ERROR)
// - Structured fields (key-value pairs)
// - Text or JSON output
// - Per-component loggers sharing one sink
// - Hex formatting for register traffic
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota - 1 // register-level bus traffic
	DEBUG
	INFO
	WARN
	ERROR
)

var levelInfo = map[LogLevel]struct {
	name  string
	color string
}{
	TRACE: {"TRACE", "\x1b[90m"},
	DEBUG: {"DEBUG", "\x1b[36m"},
	INFO:  {"INFO", "\x1b[32m"},
	WARN:  {"WARN", "\x1b[33m"},
	ERROR: {"ERROR", "\x1b[31m"},
}

const ansiReset = "\x1b[0m"

func (l LogLevel) String() string {
	if li, ok := levelInfo[l]; ok {
		return li.name
	}
	return "UNKNOWN"
}

// ParseLevel parses a level name. Unknown names select INFO.
func ParseLevel(s string) LogLevel {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return WARN
	}
	for lvl, li := range levelInfo {
		if li.name == s {
			return lvl
		}
	}
	return INFO
}

// OutputFormat selects text or JSON lines.
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// Hex formats a byte slice as hex in log fields and messages
type Hex []byte

func (h Hex) String() string {
	return hex.EncodeToString(h)
}

// MarshalJSON keeps hex frames readable in JSON output
func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// sink is the output state shared by a logger and the component loggers
// derived from it.
type sink struct {
	mu       sync.Mutex
	w        io.Writer
	level    LogLevel
	format   OutputFormat
	colorize bool
	caller   bool
}

// Logger writes leveled messages tagged with a component name.
type Logger struct {
	prefix string
	out    *sink
}

// Entry is a pending log line carrying fields.
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

const timeFormat = "2006-01-02 15:04:05.000"

// New creates a logger writing text to stderr at INFO.
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		out: &sink{
			w:        os.Stderr,
			level:    INFO,
			colorize: os.Getenv("NO_COLOR") == "",
		},
	}
}

func (l *Logger) configure(fn func(s *sink)) {
	l.out.mu.Lock()
	fn(l.out)
	l.out.mu.Unlock()
}

// SetLevel sets the minimum level. It applies to every logger sharing the sink.
func (l *Logger) SetLevel(level LogLevel) { l.configure(func(s *sink) { s.level = level }) }

// SetWriter redirects output.
func (l *Logger) SetWriter(w io.Writer) { l.configure(func(s *sink) { s.w = w }) }

// SetColorize toggles ANSI colors in text output.
func (l *Logger) SetColorize(on bool) { l.configure(func(s *sink) { s.colorize = on }) }

// SetFormat selects text or JSON output.
func (l *Logger) SetFormat(f OutputFormat) { l.configure(func(s *sink) { s.format = f }) }

// SetCaller adds file:line of the call site to each line.
func (l *Logger) SetCaller(on bool) { l.configure(func(s *sink) { s.caller = on }) }

// GetLevel returns the minimum level.
func (l *Logger) GetLevel() LogLevel {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.level
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.GetLevel()
}

// WithPrefix returns a logger for another component on the same sink.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{prefix: prefix, out: l.out}
}

func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", errString(err))
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// callerSkip is the frame of the user call site, counted from caller
// through emit and the public logging method.
const callerSkip = 3

func caller() string {
	_, file, line, ok := runtime.Caller(callerSkip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func sortedKeys(f Fields) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JSONLogEntry is one line of JSON output.
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// emit writes one line. Every public logging method calls it directly so
// the caller lookup depth is fixed.
func (l *Logger) emit(level LogLevel, msg string, fields Fields) {
	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	var where string
	if s.caller {
		where = caller()
	}
	now := time.Now()

	if s.format == FormatJSON {
		data, err := json.Marshal(JSONLogEntry{
			Timestamp: now.Format(time.RFC3339Nano),
			Level:     level.String(),
			Logger:    l.prefix,
			Message:   msg,
			Caller:    where,
			Fields:    fields,
		})
		if err != nil {
			data = []byte(fmt.Sprintf(`{"error":"failed to marshal log entry: %v"}`, err))
		}
		s.w.Write(append(data, '\n'))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%-5s] ", now.Format(timeFormat), level)
	if s.colorize {
		sb.WriteString(levelInfo[level].color + l.prefix + ansiReset)
	} else {
		sb.WriteString(l.prefix)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)
	if where != "" {
		sb.WriteString(" (" + where + ")")
	}
	if len(fields) > 0 {
		sb.WriteString(" {")
		for i, k := range sortedKeys(fields) {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, fields[k])
		}
		sb.WriteByte('}')
	}
	sb.WriteByte('\n')
	io.WriteString(s.w, sb.String())
}

func sprintf(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (l *Logger) Trace(msg string, args ...interface{}) { l.emit(TRACE, sprintf(msg, args), nil) }
func (l *Logger) Debug(msg string, args ...interface{}) { l.emit(DEBUG, sprintf(msg, args), nil) }
func (l *Logger) Info(msg string, args ...interface{})  { l.emit(INFO, sprintf(msg, args), nil) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.emit(WARN, sprintf(msg, args), nil) }
func (l *Logger) Error(msg string, args ...interface{}) { l.emit(ERROR, sprintf(msg, args), nil) }

// Frame logs a register transfer at TRACE level
func (l *Logger) Frame(dir string, addr uint8, data []byte) {
	if !l.Enabled(TRACE) {
		return
	}
	l.emit(TRACE, fmt.Sprintf("%s reg=0x%02x", dir, addr), Fields{"len": len(data), "data": Hex(data)})
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.WithFields(Fields{key: value})
}

// WithFields adds multiple fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", errString(err))
}

func (e *Entry) Trace(msg string) { e.logger.emit(TRACE, msg, e.fields) }
func (e *Entry) Debug(msg string) { e.logger.emit(DEBUG, msg, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.emit(INFO, msg, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.emit(WARN, msg, e.fields) }
func (e *Entry) Error(msg string) { e.logger.emit(ERROR, msg, e.fields) }

// SetDefaultLogger sets the logger GetLogger derives from.
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetLogger returns a component logger on the default logger's sink.
func GetLogger(prefix string) *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New("sensorhub")
	}
	return defaultLogger.WithPrefix(prefix)
}

func init() {
	defaultLogger = New("sensorhub")
	ConfigureFromEnv(defaultLogger)
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - SENSORHUB_LOG_LEVEL: TRACE, DEBUG, INFO, WARN, ERROR
//   - SENSORHUB_LOG_FORMAT: text, json
//   - SENSORHUB_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("SENSORHUB_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	switch strings.ToLower(os.Getenv("SENSORHUB_LOG_FORMAT")) {
	case "json":
		l.SetFormat(FormatJSON)
	case "text":
		l.SetFormat(FormatText)
	}
	if os.Getenv("SENSORHUB_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
