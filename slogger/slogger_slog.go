package slogger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// DefaultLogLevel is used when a level is not specified.
var DefaultLogLevel = LevelInfo

// LogLevel represents the minimum log level.
type LogLevel slog.Level

// Available log levels
const (
	LevelDebug LogLevel = LogLevel(slog.LevelDebug)
	LevelInfo  LogLevel = LogLevel(slog.LevelInfo)
	LevelWarn  LogLevel = LogLevel(slog.LevelWarn)
	LevelError LogLevel = LogLevel(slog.LevelError)
)

// Slogger implements the Logger interface using slog with a tint handler.
// Each record is annotated with the call site of the logging statement.
type Slogger struct {
	logger *slog.Logger
}

// New returns a new Slogger writing to stdout at the given level.
func New(level LogLevel) *Slogger {
	return NewWithWriter(os.Stdout, level, !isatty.IsTerminal(os.Stdout.Fd()))
}

// NewWithWriter returns a new Slogger writing to w at the given level.
func NewWithWriter(w io.Writer, level LogLevel, noColor bool) *Slogger {
	handler := tint.NewHandler(w, &tint.Options{
		NoColor:    noColor,
		TimeFormat: time.Kitchen,
		Level:      slog.Level(level),
	})
	return &Slogger{logger: slog.New(handler)}
}

func (l *Slogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, annotateCaller(keysAndValues)...)
}

func (l *Slogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, annotateCaller(keysAndValues)...)
}

func (l *Slogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, annotateCaller(keysAndValues)...)
}

func (l *Slogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, annotateCaller(keysAndValues)...)
}

func (l *Slogger) With(keysAndValues ...any) Logger {
	return &Slogger{logger: l.logger.With(keysAndValues...)}
}

// annotateCaller prepends the logging statement's file:line. Skip 2
// frames: this function and the Slogger method.
func annotateCaller(keysAndValues []any) []any {
	if _, file, line, ok := runtime.Caller(2); ok {
		source := fmt.Sprintf("%s:%d", shortPath(file), line)
		return append([]any{"source", source}, keysAndValues...)
	}
	return keysAndValues
}

// shortPath keeps the trailing directory and file name of an absolute
// source path.
func shortPath(file string) string {
	i := strings.LastIndex(file, "/")
	if i < 0 {
		return file
	}
	j := strings.LastIndex(file[:i], "/")
	if j < 0 {
		return file
	}
	return file[j+1:]
}
