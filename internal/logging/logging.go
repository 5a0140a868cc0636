// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured leveled logger used across the
// gateway's three workers and supporting services.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level mirrors slog's leveling without exposing slog to callers directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls how a Logger is constructed.
type Config struct {
	Output io.Writer
	Level  Level
	// JSON selects JSON-formatted output; text otherwise.
	JSON bool
}

// DefaultConfig returns the logger configuration used when none is supplied:
// info level, text format, stderr.
func DefaultConfig() Config {
	return Config{
		Output: os.Stderr,
		Level:  LevelInfo,
	}
}

// Logger wraps a *slog.Logger with the component-scoping and kv-pair call
// shape used throughout the gateway.
type Logger struct {
	base *slog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return &Logger{base: slog.New(h)}
}

// WithComponent returns a child logger tagging every record with
// component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{base: l.base.With("component", name)}
}

// WithError returns a child logger with an "error" field attached, so the
// caller can chain .WithError(err).Error("message") without repeating the
// key at every call site.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{base: l.base.With("error", err)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.base.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.base.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.base.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.base.Error(msg, kv...) }

// Enabled reports whether the given level would be emitted, letting callers
// skip building expensive kv pairs.
func (l *Logger) Enabled(ctx context.Context, lvl Level) bool {
	return l.base.Enabled(ctx, lvl.slogLevel())
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func getDefault() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// WithComponent returns a child of the package-level default logger tagged
// with component=name. Subsystems that don't carry their own *Logger
// reference use this entry point.
func WithComponent(name string) *Logger {
	return getDefault().WithComponent(name)
}

func Debug(msg string, kv ...any) { getDefault().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { getDefault().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { getDefault().Warn(msg, kv...) }
func Error(msg string, kv ...any) { getDefault().Error(msg, kv...) }
