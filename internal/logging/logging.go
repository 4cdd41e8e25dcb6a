// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Source file:line info
// - Context-based scope/tenant extraction for correlated logs
// - Denylist-based secret redaction of known secret keys; other keys are
//   logged verbatim (see Redactor)
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

const (
	// ScopeIDKey is the context key for a fetch scope's correlation id.
	ScopeIDKey ContextKey = "log_scope_id"
	// TenantIDKey is the context key for tenant id.
	TenantIDKey ContextKey = "log_tenant_id"
)

// WithScopeID adds a scope correlation id to the context for logging.
func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, ScopeIDKey, scopeID)
}

// WithTenantID adds a tenant id to the context for logging.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetScopeID extracts the scope id from context, if present.
func GetScopeID(ctx context.Context) string {
	if v := ctx.Value(ScopeIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetTenantID extracts the tenant id from context, if present.
func GetTenantID(ctx context.Context) string {
	if v := ctx.Value(TenantIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FromContext returns a logger with scope/tenant ids from context added as attributes.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if scopeID := GetScopeID(ctx); scopeID != "" {
		logger = logger.With("scope_id", scopeID)
	}
	if tenantID := GetTenantID(ctx); tenantID != "" {
		logger = logger.With("tenant_id", tenantID)
	}
	return logger
}

// New creates a new configured logger.
// Format is determined by:
// 1. LOG_FORMAT env var (text/json)
// 2. TTY detection (text for TTY, JSON otherwise)
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info).
//
// Every record passes through a Redactor before reaching the handler so
// secrets never reach stdout, even from a careless log.Error call.
func New() *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")
	format := "json"
	if logFormat == "text" || (logFormat == "" && isatty(os.Stdout)) {
		format = "text"
	}

	level := parseLogLevel(os.Getenv("LOG_LEVEL"))
	opts := &slog.HandlerOptions{Level: level, AddSource: true}

	var base slog.Handler
	if format == "text" {
		base = slog.NewTextHandler(os.Stdout, opts)
	} else {
		base = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(NewRedactor(base))
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault creates a new logger and sets it as the default slog logger.
// Returns the created logger for additional use.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
