// Package logger provides the structured logging used across dose.
//
// Log lines share the terminal with the watched command's own output, so
// the text format uses a compact wall-clock timestamp and every package
// tags its lines with a component name.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// DefaultTimeFormat is the timestamp layout of the text format.
const DefaultTimeFormat = "15:04:05.000"

// Output destinations understood by New besides a file path.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputNone   = "none"
)

var (
	// ErrInvalidLevel is returned by ParseLevel for an unknown level name.
	ErrInvalidLevel = errors.New("invalid log level: must be debug, info, warn, or error")

	// ErrInvalidFormat is returned by ParseFormat for an unknown format.
	ErrInvalidFormat = errors.New("invalid log format: must be text or json")
)

// Logger is the structured logging interface used throughout dose.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})

	// With returns a logger that adds the given pairs to every line.
	With(keysAndValues ...interface{}) Logger

	// Named tags every line with component=name.
	Named(name string) Logger
}

// Config holds logger configuration.
type Config struct {
	// Level: debug, info, warn, error. Unknown values fall back to info.
	Level string

	// Output: stdout, stderr, none, or a file path. Empty means stderr.
	Output string

	// Format: text or json. Anything but json is text.
	Format string

	// TimeFormat is the text-format timestamp layout.
	// Default: DefaultTimeFormat
	TimeFormat string
}

type logger struct {
	slogger *slog.Logger
}

// New creates a logger writing to cfg.Output. When a file output cannot
// be opened the logger falls back to stderr and says so.
func New(cfg Config) Logger {
	w, err := openOutput(cfg.Output)
	if err != nil {
		l := NewWithWriter(os.Stderr, cfg)
		l.Warn("log output unavailable, using stderr", "output", cfg.Output, "error", err)
		return l
	}
	return NewWithWriter(w, cfg)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format, _ := ParseFormat(cfg.Format); format == "json" { // nolint:errcheck
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.ReplaceAttr = shortTime(cfg.TimeFormat)
		handler = slog.NewTextHandler(w, opts)
	}

	return &logger{slogger: slog.New(handler)}
}

func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.slogger.Debug(msg, keysAndValues...)
}

func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.slogger.Info(msg, keysAndValues...)
}

func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.slogger.Warn(msg, keysAndValues...)
}

func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.slogger.Error(msg, keysAndValues...)
}

func (l *logger) With(keysAndValues ...interface{}) Logger {
	return &logger{slogger: l.slogger.With(keysAndValues...)}
}

func (l *logger) Named(name string) Logger {
	return l.With("component", name)
}

// ParseLevel maps a level name to a slog.Level. "warning" is accepted as
// an alias of warn.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
}

// ParseFormat normalizes a format name to "text" or "json".
func ParseFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "text", "json":
		return f, nil
	default:
		return "text", fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

// openOutput resolves an output name. Files are opened for append.
func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case OutputStdout:
		return os.Stdout, nil
	case OutputStderr, "":
		return os.Stderr, nil
	case OutputNone:
		return io.Discard, nil
	}

	// #nosec G304 -- the log path comes from the user's own config
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// shortTime rewrites the top-level time attribute using layout.
func shortTime(layout string) func([]string, slog.Attr) slog.Attr {
	if layout == "" {
		layout = DefaultTimeFormat
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
			return slog.String(slog.TimeKey, a.Value.Time().Format(layout))
		}
		return a
	}
}

// Default returns a warn-level text logger on stderr.
func Default() Logger {
	return New(Config{Level: "warn", Output: OutputStderr, Format: "text"})
}

// Noop returns a logger that discards everything.
func Noop() Logger {
	return NewWithWriter(io.Discard, Config{Level: "error"})
}
