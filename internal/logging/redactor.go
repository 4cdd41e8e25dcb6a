package logging

import (
	"context"
	"log/slog"
	"strings"
)

// sensitiveKeys are attribute keys whose values are always redacted,
// regardless of where in the attribute tree they appear.
var sensitiveKeys = map[string]struct{}{
	"authorization":  {},
	"cookie":         {},
	"set-cookie":     {},
	"token":          {},
	"password":       {},
	"api_key":        {},
	"apikey":         {},
	"access_token":   {},
	"refresh_token":  {},
	"secret":         {},
	"signature":      {},
	"x-webhook-signature": {},
	"headers":        {}, // raw header bags are redacted wholesale; log specific safe fields instead
}

// redactedValue is substituted for any sensitive attribute value.
const redactedValue = "[REDACTED]"

// Redactor wraps an slog.Handler and replaces known-secret attribute values
// before they reach the wrapped handler. The policy is a denylist of known
// secret key names, matched case-insensitively against the attribute key
// (and, for nested groups, the dotted path) - everything not on the
// denylist passes through unchanged.
type Redactor struct {
	next slog.Handler
}

// NewRedactor wraps next with secret redaction.
func NewRedactor(next slog.Handler) *Redactor {
	return &Redactor{next: next}
}

func (r *Redactor) Enabled(ctx context.Context, level slog.Level) bool {
	return r.next.Enabled(ctx, level)
}

func (r *Redactor) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return r.next.Handle(ctx, out)
}

func (r *Redactor) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &Redactor{next: r.next.WithAttrs(redacted)}
}

func (r *Redactor) WithGroup(name string) slog.Handler {
	return &Redactor{next: r.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, redactedValue)
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, sub := range group {
			redacted[i] = redactAttr(sub)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}
	return a
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}
