package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/jmylchreest/wayfarer/internal/core"
)

func TestCounter_IncrementAccumulatesPerTenantAndTier(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	if err := c.Increment(ctx, "tenant-1", core.TierLightweight, 5); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if err := c.Increment(ctx, "tenant-1", core.TierPlaywright, 25); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}

	snap, err := c.Today(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Today() error = %v", err)
	}
	if snap.Requests != 2 {
		t.Errorf("Requests = %d, want 2", snap.Requests)
	}
	if snap.Units != 30 {
		t.Errorf("Units = %d, want 30", snap.Units)
	}
	if snap.RequestsByTier[core.TierLightweight] != 1 {
		t.Errorf("RequestsByTier[lightweight] = %d, want 1", snap.RequestsByTier[core.TierLightweight])
	}
}

func TestCounter_IsolatedPerTenant(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	_ = c.Increment(ctx, "tenant-a", core.TierLightweight, 1)

	snapB, _ := c.Today(ctx, "tenant-b")
	if snapB.Requests != 0 {
		t.Errorf("tenant-b should have no usage, got %d requests", snapB.Requests)
	}
}

type failingBackend struct{}

func (failingBackend) Increment(context.Context, string, string, core.Tier, int64) error {
	return errors.New("boom")
}
func (failingBackend) Get(_ context.Context, tenantID, date string) (Snapshot, error) {
	return newSnapshot(tenantID, date), nil
}
func (failingBackend) Range(context.Context, string, string, string) ([]Snapshot, error) {
	return nil, nil
}

func TestCounter_FallsBackToMemoryOnPrimaryFailure(t *testing.T) {
	c := New(Config{Backend: failingBackend{}})
	ctx := context.Background()

	if err := c.Increment(ctx, "tenant-1", core.TierIntelligence, 1); err != nil {
		t.Fatalf("Increment() should succeed via fallback, got error = %v", err)
	}

	snap, err := c.fallback.Get(ctx, "tenant-1", dateKey(c.now()))
	if err != nil {
		t.Fatalf("fallback.Get() error = %v", err)
	}
	if snap.Requests != 1 {
		t.Errorf("fallback Requests = %d, want 1", snap.Requests)
	}
}

func TestCounter_UnitsTodayMatchesSnapshot(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	_ = c.Increment(ctx, "tenant-1", core.TierLightweight, 7)

	units, err := c.UnitsToday(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("UnitsToday() error = %v", err)
	}
	if units != 7 {
		t.Errorf("UnitsToday() = %d, want 7", units)
	}
}

func TestMemoryBackend_RangeFiltersByDate(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	_ = b.Increment(ctx, "tenant-1", "2026-07-28", core.TierLightweight, 1)
	_ = b.Increment(ctx, "tenant-1", "2026-07-29", core.TierLightweight, 1)
	_ = b.Increment(ctx, "tenant-1", "2026-08-01", core.TierLightweight, 1)

	snaps, err := b.Range(ctx, "tenant-1", "2026-07-28", "2026-07-29")
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("len(Range) = %d, want 2", len(snaps))
	}
}
