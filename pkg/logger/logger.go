// Package logger provides structured logging using slog with request and build context support.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID.
	UserIDKey contextKey = "user_id"
	// BuildContextKey is the context key for the build context of a task.
	BuildContextKey contextKey = "build_context"
)

// BuildContext carries the per-build values attached to every log line emitted
// while processing a build task. It travels in the context.Context of the call
// instead of living in goroutine-global state.
type BuildContext struct {
	ContentID      string
	TemporaryBuild bool
	ExpiresAt      *time.Time
	UserID         string
}

// Logger wraps slog.Logger with additional context-aware methods.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified level and format.
func New(level slog.Level, json bool) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Default creates a logger with default settings (INFO level, JSON format).
func Default() *Logger {
	return New(slog.LevelInfo, true)
}

// ParseLevel converts a level name into a slog.Level, defaulting to INFO.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// FromContext decorates a plain slog.Logger with the request and build values
// found in ctx. Packages that only hold a *slog.Logger use this directly.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	logger := base

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		logger = logger.With("request_id", requestID)
	}

	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		logger = logger.With("user_id", userID)
	}

	if bc, ok := ctx.Value(BuildContextKey).(BuildContext); ok {
		if bc.ContentID != "" {
			logger = logger.With("build_content_id", bc.ContentID)
		}
		logger = logger.With("temporary_build", bc.TemporaryBuild)
		if bc.ExpiresAt != nil {
			logger = logger.With("expires", bc.ExpiresAt.UTC().Format(time.RFC3339))
		}
		if bc.UserID != "" {
			logger = logger.With("user_id", bc.UserID)
		}
	}

	return logger
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithUserID adds a user ID to the context.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// ContextWithBuildContext attaches a build context to ctx.
func ContextWithBuildContext(ctx context.Context, bc BuildContext) context.Context {
	return context.WithValue(ctx, BuildContextKey, bc)
}

// BuildContextFrom returns the build context stored in ctx, if any.
func BuildContextFrom(ctx context.Context) (BuildContext, bool) {
	bc, ok := ctx.Value(BuildContextKey).(BuildContext)
	return bc, ok
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// UserIDFromContext extracts the user ID from context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}
