package logger

// defLogger is the process-wide fallback used when a component is not handed
// an explicit logger.
var defLogger = newSlog(InfoLevel, false)

// GetLogger returns the package default logger.
func GetLogger() Logger {
	return defLogger
}

// SetLevel changes the level of the package default logger.
func SetLevel(level Level) {
	defLogger.SetLevel(level)
}

// With returns a child of the default logger carrying the given key/value
// pairs.
func With(keyValues ...any) Logger {
	return defLogger.With(keyValues...)
}

// Debug logs at debug level on the default logger.
func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

// Info logs at info level on the default logger.
func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

// Warn logs at warn level on the default logger.
func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

// Error logs at error level on the default logger.
func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}

// Fatal logs at error level on the default logger and exits the process.
func Fatal(msg string, keysAndValues ...any) {
	defLogger.Fatal(msg, keysAndValues...)
}
