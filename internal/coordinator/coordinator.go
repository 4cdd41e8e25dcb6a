// Package coordinator implements the Learning Coordinator (C12): it
// wraps a fetch operation and performs the cross-component bookkeeping
// (health snapshot, anti-pattern recording, usage increment, webhook
// dispatch) that the fetch itself does not, without ever blocking the
// caller on that bookkeeping.
package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/wayfarer/internal/core"
	"github.com/jmylchreest/wayfarer/internal/errs"
	"github.com/jmylchreest/wayfarer/internal/webhook"
)

// Fetcher is the narrow contract the coordinator wraps: the tiered
// fetcher (C7).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts core.FetchOptions) (core.FetchResult, error)
}

// PatternMatcher resolves the pattern (if any) that would be attempted
// for a domain/URL, so bookkeeping can be attributed to it. Satisfied
// by the pattern registry (C4).
type PatternMatcher interface {
	Match(domain, rawURL string) (patternID string, found bool)
}

// HealthRecorder is the pattern health monitor (C6).
type HealthRecorder interface {
	Record(patternID string, success bool, failuresByCategory map[core.FailureCategory]int64) (transitioned bool)
}

// AntiPatternRecorder is the anti-pattern store (C5).
type AntiPatternRecorder interface {
	RecordFailure(patternID, domain string, category core.FailureCategory) (created bool)
}

// UsageIncrementer is the usage counter (C9).
type UsageIncrementer interface {
	Increment(ctx context.Context, tenantID string, tier core.Tier, units int64) error
}

// EventDispatcher is the webhook dispatcher (C10).
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev webhook.Event) []*webhook.Delivery
}

// Config wires the coordinator's collaborators. Every field is
// optional; a nil collaborator's bookkeeping step is skipped.
type Config struct {
	Fetcher    Fetcher
	Patterns   PatternMatcher
	Health     HealthRecorder
	AntiPatterns AntiPatternRecorder
	Usage      UsageIncrementer
	Webhooks   EventDispatcher
	Logger     *slog.Logger

	// BookkeepingTimeout bounds the background context used for
	// post-fetch bookkeeping once the caller's own context may already
	// be done. Defaults to 10s.
	BookkeepingTimeout time.Duration

	// now is overridable for tests.
	now func() time.Time

	// afterBookkeeping, if set, is invoked once the background
	// bookkeeping goroutine finishes. Used by tests to synchronize on
	// an otherwise fire-and-forget goroutine; never set in production.
	afterBookkeeping func()
}

func (c *Config) withDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.BookkeepingTimeout == 0 {
		c.BookkeepingTimeout = 10 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Coordinator wraps fetch execution with learning bookkeeping.
type Coordinator struct {
	cfg Config
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{cfg: cfg}
}

func domainOf(rawURL string) string {
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if slash := strings.IndexAny(rest, "/?#"); slash >= 0 {
		rest = rest[:slash]
	}
	return strings.TrimPrefix(strings.ToLower(rest), "www.")
}

// Execute runs one fetch for tenantID/rawURL and, once it returns,
// fires off best-effort bookkeeping in the background: none of it can
// delay or fail the result returned here.
func (c *Coordinator) Execute(ctx context.Context, tenantID, rawURL string, opts core.FetchOptions) (core.FetchResult, error) {
	domain := domainOf(rawURL)

	var patternID string
	var hasPattern bool
	if c.cfg.Patterns != nil {
		patternID, hasPattern = c.cfg.Patterns.Match(domain, rawURL)
	}

	start := c.cfg.now()
	result, err := c.fetch(ctx, rawURL, opts)
	elapsed := c.cfg.now().Sub(start)

	c.bookkeep(tenantID, domain, rawURL, patternID, hasPattern, result, err, elapsed)

	return result, err
}

func (c *Coordinator) fetch(ctx context.Context, rawURL string, opts core.FetchOptions) (core.FetchResult, error) {
	if c.cfg.Fetcher == nil {
		return core.FetchResult{}, nil
	}
	return c.cfg.Fetcher.Fetch(ctx, rawURL, opts)
}

func (c *Coordinator) bookkeep(tenantID, domain, rawURL, patternID string, hasPattern bool, result core.FetchResult, fetchErr error, elapsed time.Duration) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.cfg.Logger.Error("coordinator: bookkeeping panicked", "recover", r)
			}
			if c.cfg.afterBookkeeping != nil {
				c.cfg.afterBookkeeping()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.BookkeepingTimeout)
		defer cancel()

		succeeded := fetchErr == nil

		if c.cfg.Health != nil && hasPattern {
			c.cfg.Health.Record(patternID, succeeded, nil)
		}

		if !succeeded && c.cfg.AntiPatterns != nil && hasPattern {
			category := categoryOf(fetchErr)
			c.cfg.AntiPatterns.RecordFailure(patternID, domain, category)
		}

		if c.cfg.Usage != nil {
			tier := result.TierUsed
			units := result.TierCostUnits
			if units == 0 {
				units = tier.CostUnits()
			}
			if err := c.cfg.Usage.Increment(ctx, tenantID, tier, int64(units)); err != nil {
				c.cfg.Logger.Error("coordinator: usage increment failed", "tenant_id", tenantID, "error", err)
			}
		}

		if c.cfg.Webhooks != nil {
			eventType := "fetch.succeeded"
			severity := webhook.SeverityLow
			if !succeeded {
				eventType = "fetch.failed"
				severity = webhook.SeverityMedium
			}
			ev := webhook.Event{
				ID:        ulid.Make().String(),
				Type:      eventType,
				Category:  "fetch",
				TenantID:  tenantID,
				Timestamp: c.cfg.now(),
				Domain:    domain,
				Severity:  severity,
				Data: map[string]any{
					"url":          rawURL,
					"tier_used":    string(result.TierUsed),
					"duration_ms":  elapsed.Milliseconds(),
					"http_status":  result.HTTPStatus,
				},
			}
			c.cfg.Webhooks.Dispatch(ctx, ev)
		}
	}()
}

func categoryOf(err error) core.FailureCategory {
	if e, ok := errs.As(err); ok {
		return core.FailureCategory(e.Code)
	}
	return core.FailureUnknown
}
