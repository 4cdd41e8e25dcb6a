package engine

import (
	"context"
	"fmt"
	"time"
)

// UsageLimits mirrors the tenant's configured budgets, echoed back
// alongside the observed counts so a caller can compute remaining
// headroom without a second lookup.
type UsageLimits struct {
	DailyLimit   int64
	MonthlyLimit int64
}

// UsageSummary is the usage(tenant) response: today's and this month's
// observed unit/request counts plus the tenant's configured limits.
type UsageSummary struct {
	TodayRequests int64
	TodayUnits    int64
	MonthRequests int64
	MonthUnits    int64
	Limits        UsageLimits
}

// Usage reports tenant's usage for today and for the current UTC month.
//
// The underlying counter retains only an 8-day trailing window per
// tenant/day bucket, so "month" here is actually "the trailing window
// intersected with the current calendar month" rather than a true
// full-month total once more than 8 days have elapsed since the 1st.
// Billing-grade monthly totals live outside this package.
func (e *Engine) Usage(ctx context.Context, tenant Tenant) (UsageSummary, error) {
	now := time.Now().UTC()
	today, err := e.usage.Today(ctx, tenant.ID)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("read today's usage: %w", err)
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	todayDate := now.Format("2006-01-02")
	snapshots, err := e.usage.Range(ctx, tenant.ID, monthStart, todayDate)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("read month-to-date usage: %w", err)
	}

	var monthRequests, monthUnits int64
	for _, s := range snapshots {
		monthRequests += s.Requests
		monthUnits += s.Units
	}

	return UsageSummary{
		TodayRequests: today.Requests,
		TodayUnits:    today.Units,
		MonthRequests: monthRequests,
		MonthUnits:    monthUnits,
		Limits: UsageLimits{
			DailyLimit:   tenant.DailyLimit,
			MonthlyLimit: tenant.MonthlyLimit,
		},
	}, nil
}
