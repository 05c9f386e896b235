package log

import (
	"fmt"
	"log/slog"
	"os"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return DebugLevel, nil
	case "info", "INFO", "":
		return InfoLevel, nil
	case "warn", "WARN", "warning":
		return WarnLevel, nil
	case "error", "ERROR":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("log: unknown level %q", s)
}

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// F constructs a Field.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Err is a convenience Field carrying an error under the "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Logger is the structured logging interface persist components accept.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that includes the given fields on every entry.
	With(fields ...Field) Logger
	// WithComponent tags entries with a component name.
	WithComponent(component string) Logger
}

// BaseLogger implements Logger on top of a slog.Logger.
type BaseLogger struct {
	slog  *slog.Logger
	level *slog.LevelVar
}

// LoggerOption configures a logger under construction.
type LoggerOption func(*loggerConfig)

type loggerConfig struct {
	level  Level
	format string
	out    *os.File
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(c *loggerConfig) { c.level = level }
}

// WithJSONFormat switches output from text to JSON.
func WithJSONFormat() LoggerOption {
	return func(c *loggerConfig) { c.format = "json" }
}

// WithOutput directs output to the given file (default stderr).
func WithOutput(f *os.File) LoggerOption {
	return func(c *loggerConfig) { c.out = f }
}

// NewLogger creates a new logger with the given options.
func NewLogger(options ...LoggerOption) Logger {
	cfg := loggerConfig{level: InfoLevel, format: "text", out: os.Stderr}
	for _, option := range options {
		option(&cfg)
	}

	lv := new(slog.LevelVar)
	lv.Set(toSlogLevel(cfg.level))
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	if cfg.format == "json" {
		h = slog.NewJSONHandler(cfg.out, opts)
	} else {
		h = slog.NewTextHandler(cfg.out, opts)
	}
	return &BaseLogger{slog: slog.New(h), level: lv}
}

// NewNop returns a Logger that discards everything. Components default to it
// when no logger is supplied.
func NewNop() Logger {
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelError + 1)
	return &BaseLogger{slog: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), level: lv}
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.slog.Debug(msg, args(fields)...) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.slog.Info(msg, args(fields)...) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.slog.Warn(msg, args(fields)...) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.slog.Error(msg, args(fields)...) }

// With returns a child logger carrying the given fields.
func (l *BaseLogger) With(fields ...Field) Logger {
	return &BaseLogger{slog: l.slog.With(args(fields)...), level: l.level}
}

// WithComponent tags entries with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(F("component", component))
}

// Slog exposes the underlying slog.Logger for interop with libraries that
// speak slog directly.
func (l *BaseLogger) Slog() *slog.Logger { return l.slog }

func args(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
