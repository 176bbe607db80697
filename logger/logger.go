// Package logger defines the structured logging facade used across go-mfs.
//
// Every component takes a Logger rather than a concrete implementation, so
// applications embedding the simulator can route its output into their own
// logging setup. The built-in implementation (NewSlog) writes through
// log/slog.
package logger

// Level indicates the logging severity level.
type Level = int8

const (
	// DebugLevel logs wire-level detail and is usually disabled outside
	// troubleshooting sessions.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs recoverable conditions such as degraded frames or
	// dropped events.
	WarnLevel
	// ErrorLevel logs failures that need operator attention.
	ErrorLevel
	// FatalLevel logs a message and terminates the process.
	FatalLevel
)

// ParseLevel maps a level name ("debug", "info", "warn", "error") to its
// Level. Unknown names fall back to InfoLevel.
func ParseLevel(name string) Level {
	switch name {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger is the structured, leveled logging interface accepted throughout
// go-mfs. Key/value pairs follow the message the way log/slog takes them.
type Logger interface {
	// Debug logs a message at DebugLevel with the given key/value pairs.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel with the given key/value pairs.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel with the given key/value pairs.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel with the given key/value pairs.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel and then calls os.Exit(1), even if
	// logging at FatalLevel is disabled.
	Fatal(msg string, keysAndValues ...any)
	// With returns a child logger that carries the given key/value pairs on
	// every record. The parent is unaffected.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level.
	Level() Level
	// SetLevel sets the minimum enabled level.
	SetLevel(level Level)
}
