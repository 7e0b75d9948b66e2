// Package logging provides a small structured-logging wrapper used across
// agentrt so components depend on an interface rather than a concrete
// logging library.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Logger is the structured logger surface every component constructor
// accepts. Components never reach for a package-level logger instance.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)

	// IsNil reports whether this logger is the nop implementation.
	IsNil() bool
}

// OrNop returns l if non-nil, otherwise a logger that discards everything.
// Components call this once in their constructor so every subsequent call
// site can assume a non-nil logger.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

// NopLogger discards everything. It is the zero-config default.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) IsNil() bool          { return true }

// slogLogger adapts log/slog to the Logger interface, tagging every line
// with a component name the way the teacher's observability package does.
type slogLogger struct {
	base      *slog.Logger
	component string
}

// NewComponentLogger returns a Logger that writes structured JSON lines to
// stderr, tagged with component. Used as the process-wide default; tests
// typically pass NopLogger{} instead.
func NewComponentLogger(component string) Logger {
	base := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return &slogLogger{base: base, component: component}
}

// FromObservabilityWithComponent returns a component-scoped Logger built on
// top of an existing slog.Logger, mirroring the teacher's pattern of
// deriving component loggers from a shared observability root.
func FromObservabilityWithComponent(base *slog.Logger, component string) Logger {
	if base == nil {
		return NopLogger{}
	}
	return &slogLogger{base: base, component: component}
}

func (l *slogLogger) Debug(format string, args ...any) { l.log(context.Background(), slog.LevelDebug, format, args...) }
func (l *slogLogger) Info(format string, args ...any)  { l.log(context.Background(), slog.LevelInfo, format, args...) }
func (l *slogLogger) Warn(format string, args ...any)  { l.log(context.Background(), slog.LevelWarn, format, args...) }
func (l *slogLogger) Error(format string, args ...any) { l.log(context.Background(), slog.LevelError, format, args...) }
func (l *slogLogger) IsNil() bool                      { return false }

func (l *slogLogger) log(ctx context.Context, level slog.Level, format string, args ...any) {
	l.base.Log(ctx, level, sprintfOrFormat(format, args...), slog.String("component", l.component))
}

func sprintfOrFormat(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
