package logger

import (
	"context"
	"io"
	"log/slog"
)

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewSlogLogger builds a slog-backed logger. format is "json" or "text".
func NewSlogLogger(w io.Writer, format string, level LogLevel) Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{logger: slog.New(h), level: level}
}

// FromSlog wraps an existing slog logger.
func FromSlog(l *slog.Logger, level LogLevel) Logger {
	return &SlogLogger{logger: l, level: level}
}

func (l *SlogLogger) LogMode(level LogLevel) Logger {
	return &SlogLogger{logger: l.logger, level: level}
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.log(Info, slog.LevelInfo, msg, args) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(Warn, slog.LevelWarn, msg, args) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(Error, slog.LevelError, msg, args) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.log(Debug, slog.LevelDebug, msg, args) }

func (l *SlogLogger) log(min LogLevel, lvl slog.Level, msg string, args []any) {
	if l.level < min {
		return
	}
	l.logger.Log(context.Background(), lvl, msg, args...)
}
