// Package engine composes the core components (C1-C12) into the public
// operations the hosting layer calls: browse, fetch, batch, usage, and
// webhook CRUD/test/history/stats. It owns no HTTP routing, auth, or
// billing — those stay with the hosting layer.
package engine

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jmylchreest/wayfarer/internal/antipattern"
	"github.com/jmylchreest/wayfarer/internal/changetracker"
	"github.com/jmylchreest/wayfarer/internal/coordinator"
	"github.com/jmylchreest/wayfarer/internal/core"
	"github.com/jmylchreest/wayfarer/internal/drain"
	"github.com/jmylchreest/wayfarer/internal/fetcher"
	"github.com/jmylchreest/wayfarer/internal/health"
	"github.com/jmylchreest/wayfarer/internal/patterns"
	"github.com/jmylchreest/wayfarer/internal/retry"
	"github.com/jmylchreest/wayfarer/internal/safety"
	"github.com/jmylchreest/wayfarer/internal/scheduler"
	"github.com/jmylchreest/wayfarer/internal/usage"
	"github.com/jmylchreest/wayfarer/internal/verify"
	"github.com/jmylchreest/wayfarer/internal/webhook"
)

// Tenant is the borrowed tenant record the engine reads: only id and
// budget fields matter here.
type Tenant struct {
	ID           string
	DailyLimit   int64
	MonthlyLimit int64
}

// Config wires every collaborator's tunables. Zero-value fields fall
// back to each owning component's own defaults.
type Config struct {
	StateDir string

	Safety safety.Config

	UsageBackend usage.Backend

	WebhookClient          webhook.Doer
	IntelligenceHTTPClient patterns.HTTPDoer
	PlaywrightTier         fetcher.PlaywrightTier

	DrainQuietPeriod time.Duration
	CircuitResetMs   int64

	Logger *slog.Logger
}

func (c *Config) withDefaults() {
	if c.StateDir == "" {
		c.StateDir = "./state"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.IntelligenceHTTPClient == nil {
		c.IntelligenceHTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.DrainQuietPeriod == 0 {
		c.DrainQuietPeriod = 5 * time.Second
	}
}

func (c *Config) patternsPath() string {
	return filepath.Join(c.StateDir, "patterns.json")
}

func (c *Config) changesPath() string {
	return filepath.Join(c.StateDir, "content-changes.json")
}

// Engine is the fully composed fetch-and-learn core.
type Engine struct {
	cfg Config

	patterns     *patterns.Registry
	antiPatterns *antipattern.Store
	health       *health.Monitor
	scheduler    *scheduler.Scheduler
	retry        *retry.Engine
	verifier     *verify.Pipeline
	fetcher      *fetcher.Fetcher
	usage        *usage.Counter
	webhooks     *webhook.Dispatcher
	changes      *changetracker.Tracker
	coordinator  *coordinator.Coordinator
	drain        *drain.Coordinator

	logger *slog.Logger
}

// New composes every component into one Engine and loads any persisted
// state from cfg.StateDir.
func New(cfg Config) (*Engine, error) {
	cfg.withDefaults()

	drainCoord := drain.NewCoordinator(drain.Config{
		QuietPeriod: cfg.DrainQuietPeriod,
		Logger:      cfg.Logger,
	})
	drainCoord.Start()

	antiStore := antipattern.New(antipattern.Config{})

	registry := patterns.New(patterns.Config{
		AntiPatterns: antiStore,
		HTTPClient:   cfg.IntelligenceHTTPClient,
		PersistPath:  cfg.patternsPath(),
	})
	if err := registry.Load(cfg.patternsPath()); err != nil {
		return nil, fmt.Errorf("load pattern registry state: %w", err)
	}

	healthMonitor := health.New(health.Config{})
	sched := scheduler.New()
	retryEngine := retry.New()
	verifier := verify.New(verify.Config{})

	lightweight := fetcher.NewLightweightTier(fetcher.LightweightConfig{})

	tieredFetcher := fetcher.New(fetcher.Config{
		Intelligence: registry,
		Lightweight:  lightweight,
		Playwright:   cfg.PlaywrightTier,
		Verifier:     verifier,
		Retry:        retryEngine,
		Scheduler:    sched,
		SafetyConfig: cfg.Safety,
	})

	usageCounter := usage.New(usage.Config{Backend: cfg.UsageBackend, Logger: cfg.Logger})

	dispatcher := webhook.New(webhook.Config{
		Client:         cfg.WebhookClient,
		CircuitResetMs: cfg.CircuitResetMs,
		Logger:         cfg.Logger,
		Drain:          drainCoord,
	})

	tracker := changetracker.New(changetracker.Config{PersistPath: cfg.changesPath()})
	if err := tracker.Load(cfg.changesPath()); err != nil {
		return nil, fmt.Errorf("load content-change tracker state: %w", err)
	}

	coord := coordinator.New(coordinator.Config{
		Fetcher:      tieredFetcher,
		Patterns:     registryMatchAdapter{registry: registry},
		Health:       healthRecorderAdapter{monitor: healthMonitor},
		AntiPatterns: antiPatternAdapter{store: antiStore},
		Usage:        usageCounter,
		Webhooks:     dispatcher,
		Logger:       cfg.Logger,
	})

	return &Engine{
		cfg:          cfg,
		patterns:     registry,
		antiPatterns: antiStore,
		health:       healthMonitor,
		scheduler:    sched,
		retry:        retryEngine,
		verifier:     verifier,
		fetcher:      tieredFetcher,
		usage:        usageCounter,
		webhooks:     dispatcher,
		changes:      tracker,
		coordinator:  coord,
		drain:        drainCoord,
		logger:       cfg.Logger,
	}, nil
}

// Shutdown waits up to timeout for tracked background work (in-flight
// webhook deliveries and retries) to settle, then saves the pattern
// registry and the content-change tracker state one final time.
func (e *Engine) Shutdown(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.drain.Drained():
	case <-timer.C:
		e.logger.Warn("engine shutdown: drain timed out, persisting state anyway")
	}
	e.drain.Stop()

	if err := e.patterns.Save(e.cfg.patternsPath()); err != nil {
		return fmt.Errorf("save pattern registry state: %w", err)
	}
	if err := e.changes.Save(e.cfg.changesPath()); err != nil {
		return fmt.Errorf("save content-change tracker state: %w", err)
	}
	return nil
}

// registryMatchAdapter adapts *patterns.Registry onto
// coordinator.PatternMatcher: the top match's pattern id, if any. The
// coordinator's own interface is deliberately simpler than Registry.Match's
// ([]Match, error) shape, since it only needs an id to key health and
// anti-pattern bookkeeping by.
type registryMatchAdapter struct {
	registry *patterns.Registry
}

func (a registryMatchAdapter) Match(domain, rawURL string) (string, bool) {
	matches, err := a.registry.Match(domain, rawURL)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0].Pattern.ID, true
}

// healthRecorderAdapter adapts *health.Monitor onto
// coordinator.HealthRecorder.
type healthRecorderAdapter struct {
	monitor *health.Monitor
}

func (a healthRecorderAdapter) Record(patternID string, success bool, failuresByCategory map[core.FailureCategory]int64) bool {
	return a.monitor.Record(patternID, success, failuresByCategory) != nil
}

// antiPatternAdapter adapts *antipattern.Store onto
// coordinator.AntiPatternRecorder.
type antiPatternAdapter struct {
	store *antipattern.Store
}

func (a antiPatternAdapter) RecordFailure(patternID, domain string, category core.FailureCategory) bool {
	_, created := a.store.RecordFailure(patternID, domain, category)
	return created
}
