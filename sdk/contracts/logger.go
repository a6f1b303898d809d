package contracts

import "time"

// LogLevel represents the severity level for logging. Levels are ordered so
// that a logger configured at a given level emits that level and everything
// more severe.
type LogLevel int

const (
	// DebugLevel is for developer diagnostics, including per-message MIDI traces.
	DebugLevel LogLevel = iota - 1
	// InfoLevel reports the normal progress of a session.
	InfoLevel
	// WarnLevel reports recovered faults: dropped messages, lost clients, storage fallbacks.
	WarnLevel
	// ErrorLevel reports failures that ended a component.
	ErrorLevel
	// FatalLevel is logged right before the process exits.
	FatalLevel
)

// LogFormat selects the encoder used by the logger.
type LogFormat string

const (
	// JSONFormat emits one JSON object per line.
	JSONFormat LogFormat = "json"
	// ConsoleFormat emits human readable lines.
	ConsoleFormat LogFormat = "console"
)

// Field is a typed key/value pair attached to a log entry.
type Field interface {
	Bool(key string, val bool) Field
	Int(key string, val int) Field
	Float64(key string, val float64) Field
	String(key string, val string) Field
	Time(key string, val time.Time) Field
	Duration(key string, val time.Duration) Field
	Int64(key string, val int64) Field
	Error(key string, val error) Field
	Uint64(key string, val uint64) Field
	Uint8(key string, val uint8) Field
}

// Logger writes leveled, structured log entries.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// Field returns a builder for typed fields.
	Field() Field

	// Named returns a child logger whose entries carry the given component name.
	Named(name string) Logger

	SetLevel(level LogLevel)
	Sync() error
}
