// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package torch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with binding-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000), // Unreachable level
		})),
	}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.TrimSpace(s)))
	return level, err
}

// WithOp adds an operator field to the logger.
func (l *Logger) WithOp(op string) *Logger {
	return &Logger{
		Logger: l.Logger.With("op", op),
	}
}

// LogLibraryLoad logs the selection of an engine library.
func (l *Logger) LogLibraryLoad(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "engine load failed",
			"library", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "engine loaded",
			"library", name,
		)
	}
}

// LogModule logs a module construction.
func (l *Logger) LogModule(ctx context.Context, op string, params int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "module construction failed",
			"op", op,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "module constructed",
			"op", op,
			"parameters", params,
		)
	}
}

// LogDispose logs a released handle.
func (l *Logger) LogDispose(ctx context.Context, kind, name string, err error) {
	if err != nil {
		l.WarnContext(ctx, "dispose failed",
			"kind", kind,
			"name", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "disposed",
			"kind", kind,
			"name", name,
		)
	}
}

// LogSave logs a parameter save.
func (l *Logger) LogSave(ctx context.Context, op string, tensors int, bytes int64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"op", op,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "parameters saved",
			"op", op,
			"tensors", tensors,
			"bytes", bytes,
			"duration", elapsed,
		)
	}
}

// LogLoad logs a parameter load.
func (l *Logger) LogLoad(ctx context.Context, op string, tensors int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"op", op,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "parameters loaded",
			"op", op,
			"tensors", tensors,
			"duration", elapsed,
		)
	}
}
