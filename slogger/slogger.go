package slogger

import (
	"context"
	"strings"
)

// DefaultLogger is used when no logger is configured. It discards output.
var DefaultLogger = NewDevNullLogger()

// Logger is the structured logging interface used throughout distill.
// It is compatible with common logging libraries like slog and zerolog.
type Logger interface {
	// Debug logs a message at debug level with optional key-value pairs
	Debug(msg string, keysAndValues ...any)

	// Info logs a message at info level with optional key-value pairs
	Info(msg string, keysAndValues ...any)

	// Warn logs a message at warn level with optional key-value pairs
	Warn(msg string, keysAndValues ...any)

	// Error logs a message at error level with optional key-value pairs
	Error(msg string, keysAndValues ...any)

	// With returns a new Logger with the given key-value pairs added
	With(keysAndValues ...any) Logger
}

type contextKey string

const loggerKey contextKey = "distill.logger"

// WithLogger returns a new context carrying the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the logger carried by the context, or DefaultLogger.
func Ctx(ctx context.Context) Logger {
	if ctx == nil {
		return DefaultLogger
	}
	logger, ok := ctx.Value(loggerKey).(Logger)
	if !ok {
		return DefaultLogger
	}
	return logger
}

// LevelFromString converts a string to a LogLevel.
func LevelFromString(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return DefaultLogLevel
	}
}
