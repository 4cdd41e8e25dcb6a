// Package usage implements the Usage Counter (C9): atomic per-tenant,
// per-UTC-day request/unit counters broken down by fetch tier, with a
// pluggable backend (in-memory or a remote atomic counter store).
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/wayfarer/internal/core"
)

const counterTTL = 8 * 24 * time.Hour

// Snapshot is one (tenant, day) counter row.
type Snapshot struct {
	TenantID         string
	Date             string // YYYY-MM-DD, UTC
	Requests         int64
	Units            int64
	RequestsByTier   map[core.Tier]int64
	UnitsByTier      map[core.Tier]int64
}

func newSnapshot(tenantID, date string) Snapshot {
	return Snapshot{
		TenantID:       tenantID,
		Date:           date,
		RequestsByTier: make(map[core.Tier]int64),
		UnitsByTier:    make(map[core.Tier]int64),
	}
}

// Backend is the pluggable counter store; Get and Range read back what
// was written. MemoryBackend applies an Increment under one lock;
// RedisBackend uses one pipelined round trip, plus a second (EXPIRE) on
// the first write of a (tenant, day) hash.
type Backend interface {
	Increment(ctx context.Context, tenantID, date string, tier core.Tier, units int64) error
	Get(ctx context.Context, tenantID, date string) (Snapshot, error)
	Range(ctx context.Context, tenantID, startDate, endDate string) ([]Snapshot, error)
}

// MemoryBackend is the default in-memory Backend, also used as the
// fallback target when a remote backend's increment partially fails.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]Snapshot // key: tenantID + "|" + date
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]Snapshot)}
}

func memKey(tenantID, date string) string { return tenantID + "|" + date }

// Increment atomically adds one request and units to the (tenant, date,
// tier) bucket.
func (m *MemoryBackend) Increment(_ context.Context, tenantID, date string, tier core.Tier, units int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(tenantID, date)
	snap, ok := m.data[key]
	if !ok {
		snap = newSnapshot(tenantID, date)
	}
	snap.Requests++
	snap.Units += units
	snap.RequestsByTier[tier]++
	snap.UnitsByTier[tier] += units
	m.data[key] = snap
	return nil
}

// Get returns the snapshot for (tenant, date), zero-valued if absent.
func (m *MemoryBackend) Get(_ context.Context, tenantID, date string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.data[memKey(tenantID, date)]
	if !ok {
		return newSnapshot(tenantID, date), nil
	}
	return snap, nil
}

// Range returns every stored snapshot for tenantID whose date falls in
// [startDate, endDate] (inclusive, lexicographic on YYYY-MM-DD).
func (m *MemoryBackend) Range(_ context.Context, tenantID, startDate, endDate string) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Snapshot
	for _, snap := range m.data {
		if snap.TenantID != tenantID {
			continue
		}
		if snap.Date < startDate || snap.Date > endDate {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Counter wraps a Backend with a fallback path: if the configured remote
// backend fails, the increment is retried once against an in-memory
// fallback and logged a single time per failure. Counter applies no TTL
// itself; see Increment.
type Counter struct {
	primary  Backend
	fallback *MemoryBackend
	logger   *slog.Logger
	now      func() time.Time
}

// Config wires the counter's backend.
type Config struct {
	Backend Backend
	Logger  *slog.Logger
}

// New builds a Counter. If cfg.Backend is nil the in-memory backend is
// used directly with no fallback layer.
func New(cfg Config) *Counter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fallback := NewMemoryBackend()
	primary := cfg.Backend
	if primary == nil {
		primary = fallback
	}
	return &Counter{primary: primary, fallback: fallback, logger: logger, now: time.Now}
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Increment records one request of the given tier and unit cost for
// tenantID on the current UTC day. Expiry is left to the backend:
// RedisBackend sets the 8-day TTL on a day's first increment and never
// resets it, while MemoryBackend (also the fallback) keeps rows with no
// expiry.
func (c *Counter) Increment(ctx context.Context, tenantID string, tier core.Tier, units int64) error {
	date := dateKey(c.now())
	if err := c.primary.Increment(ctx, tenantID, date, tier, units); err != nil {
		c.logger.Error("usage: primary backend increment failed, falling back to memory",
			"tenant_id", tenantID, "error", err)
		if fallbackErr := c.fallback.Increment(ctx, tenantID, date, tier, units); fallbackErr != nil {
			return fmt.Errorf("usage increment failed on both primary and fallback: %w", fallbackErr)
		}
	}
	return nil
}

// Today returns today's snapshot for tenantID, merging the fallback
// backend's counts in if the primary ever failed over.
func (c *Counter) Today(ctx context.Context, tenantID string) (Snapshot, error) {
	return c.Get(ctx, tenantID, dateKey(c.now()))
}

// Get returns the snapshot for (tenantID, date), merged across primary
// and fallback.
func (c *Counter) Get(ctx context.Context, tenantID, date string) (Snapshot, error) {
	primary, err := c.primary.Get(ctx, tenantID, date)
	if err != nil {
		return Snapshot{}, err
	}
	if c.primary == Backend(c.fallback) {
		return primary, nil
	}
	fb, err := c.fallback.Get(ctx, tenantID, date)
	if err != nil {
		return primary, nil
	}
	return mergeSnapshots(primary, fb), nil
}

// UnitsToday is the fast-path read used for a quick rate/budget check.
func (c *Counter) UnitsToday(ctx context.Context, tenantID string) (int64, error) {
	snap, err := c.Today(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return snap.Units, nil
}

// Range returns daily snapshots for tenantID across [startDate, endDate],
// for billing export.
func (c *Counter) Range(ctx context.Context, tenantID, startDate, endDate string) ([]Snapshot, error) {
	primary, err := c.primary.Range(ctx, tenantID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	if c.primary == Backend(c.fallback) {
		return primary, nil
	}
	fb, err := c.fallback.Range(ctx, tenantID, startDate, endDate)
	if err != nil || len(fb) == 0 {
		return primary, nil
	}
	byDate := make(map[string]Snapshot, len(primary))
	for _, s := range primary {
		byDate[s.Date] = s
	}
	for _, s := range fb {
		if existing, ok := byDate[s.Date]; ok {
			byDate[s.Date] = mergeSnapshots(existing, s)
		} else {
			byDate[s.Date] = s
		}
	}
	out := make([]Snapshot, 0, len(byDate))
	for _, s := range byDate {
		out = append(out, s)
	}
	return out, nil
}

func mergeSnapshots(a, b Snapshot) Snapshot {
	out := newSnapshot(a.TenantID, a.Date)
	out.Requests = a.Requests + b.Requests
	out.Units = a.Units + b.Units
	for tier, n := range a.RequestsByTier {
		out.RequestsByTier[tier] += n
	}
	for tier, n := range b.RequestsByTier {
		out.RequestsByTier[tier] += n
	}
	for tier, n := range a.UnitsByTier {
		out.UnitsByTier[tier] += n
	}
	for tier, n := range b.UnitsByTier {
		out.UnitsByTier[tier] += n
	}
	return out
}

// TTL returns the fixed retention window for a counter row, exposed so a
// Redis-backed implementation can set the expiry on first write.
func TTL() time.Duration { return counterTTL }
