package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/wayfarer/internal/core"
	"github.com/jmylchreest/wayfarer/internal/errs"
)

// checkBudget enforces the per-tenant daily unit budget before the
// coordinator (and, beneath it, the scheduler at C2) is ever touched.
// The actual tier picked by the tiered fetcher, and so the actual cost,
// isn't known until deep inside Fetch's escalation loop — so this uses
// opts.MaxCostTier's cost as a conservative worst-case ceiling. A request
// that would have resolved to a cheaper tier is refused here even though
// it would not have exceeded the budget; this trades a few false
// rejections for never touching C2 over budget.
func (e *Engine) checkBudget(ctx context.Context, tenant Tenant, opts core.FetchOptions) error {
	if tenant.DailyLimit <= 0 {
		return nil
	}
	ceilingTier := opts.MaxCostTier
	if ceilingTier == "" {
		ceilingTier = core.TierPlaywright
	}
	snapshot, err := e.usage.Today(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("read today's usage: %w", err)
	}
	if snapshot.Units+int64(ceilingTier.CostUnits()) > tenant.DailyLimit {
		return errs.LimitExceeded(fmt.Sprintf("daily unit budget of %d would be exceeded", tenant.DailyLimit))
	}
	return nil
}

// Browse runs the full tiered fetch-and-learn path (intelligence,
// lightweight, or playwright, whichever the tier escalation and
// verification pipeline settle on) and feeds the outcome back into the
// pattern registry, health monitor, anti-pattern store, usage counter,
// and webhook dispatcher through the learning coordinator.
func (e *Engine) Browse(ctx context.Context, tenant Tenant, rawURL string, opts core.FetchOptions) (core.FetchResult, error) {
	if err := e.checkBudget(ctx, tenant, opts); err != nil {
		return core.FetchResult{}, err
	}
	return e.coordinator.Execute(ctx, tenant.ID, rawURL, opts)
}

// Fetch is Browse restricted to the intelligence and lightweight tiers:
// it never drives the headless browser, trading coverage of
// JavaScript-heavy pages for a cheaper, faster call.
func (e *Engine) Fetch(ctx context.Context, tenant Tenant, rawURL string, opts core.FetchOptions) (core.FetchResult, error) {
	if opts.MaxCostTier == "" || opts.MaxCostTier == core.TierPlaywright {
		opts.MaxCostTier = core.TierLightweight
	}
	return e.Browse(ctx, tenant, rawURL, opts)
}

// BatchItemStatus classifies one URL's outcome within a Batch call.
type BatchItemStatus string

const (
	BatchSuccess     BatchItemStatus = "success"
	BatchError       BatchItemStatus = "error"
	BatchSkipped     BatchItemStatus = "skipped"
	BatchRateLimited BatchItemStatus = "rate_limited"
)

// BatchItemResult is one URL's outcome within a Batch call.
type BatchItemResult struct {
	URL        string
	Status     BatchItemStatus
	Result     *core.FetchResult
	Error      string
	DurationMs int64
}

// BatchOptions tunes Batch's fan-out and failure handling.
type BatchOptions struct {
	Concurrency          int
	StopOnError          bool
	ContinueOnRateLimit  bool
	PerURLTimeout        time.Duration
	TotalTimeout         time.Duration
}

func (o *BatchOptions) withDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.PerURLTimeout <= 0 {
		o.PerURLTimeout = 30 * time.Second
	}
}

// Batch runs Browse over every url concurrently, capped at
// batchOpts.Concurrency in flight at once, honoring per-URL and total
// timeouts and the stop/continue failure policy. The returned slice is
// always len(urls) long and in the same order as urls, regardless of
// completion order.
func (e *Engine) Batch(ctx context.Context, tenant Tenant, urls []string, opts core.FetchOptions, batchOpts BatchOptions) ([]BatchItemResult, error) {
	batchOpts.withDefaults()

	if batchOpts.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, batchOpts.TotalTimeout)
		defer cancel()
	}

	results := make([]BatchItemResult, len(urls))
	sem := make(chan struct{}, batchOpts.Concurrency)

	var stopMu sync.Mutex
	stopped := false
	shouldStop := func() bool {
		stopMu.Lock()
		defer stopMu.Unlock()
		return stopped
	}
	triggerStop := func() {
		stopMu.Lock()
		stopped = true
		stopMu.Unlock()
	}

	var wg sync.WaitGroup
	for i, rawURL := range urls {
		if shouldStop() {
			results[i] = BatchItemResult{URL: rawURL, Status: BatchSkipped}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rawURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			if shouldStop() || ctx.Err() != nil {
				results[i] = BatchItemResult{URL: rawURL, Status: BatchSkipped}
				return
			}

			itemCtx, cancel := context.WithTimeout(ctx, batchOpts.PerURLTimeout)
			defer cancel()

			start := time.Now()
			result, err := e.Browse(itemCtx, tenant, rawURL, opts)
			elapsed := time.Since(start).Milliseconds()

			if err == nil {
				results[i] = BatchItemResult{URL: rawURL, Status: BatchSuccess, Result: &result, DurationMs: elapsed}
				return
			}

			if isRateLimited(err) {
				results[i] = BatchItemResult{URL: rawURL, Status: BatchRateLimited, Error: err.Error(), DurationMs: elapsed}
				if !batchOpts.ContinueOnRateLimit && batchOpts.StopOnError {
					triggerStop()
				}
				return
			}

			results[i] = BatchItemResult{URL: rawURL, Status: BatchError, Error: err.Error(), DurationMs: elapsed}
			if batchOpts.StopOnError {
				triggerStop()
			}
		}(i, rawURL)
	}
	wg.Wait()

	return results, nil
}

func isRateLimited(err error) bool {
	e, ok := errs.As(err)
	if !ok {
		return false
	}
	return e.Code == errs.CodeRateLimited || e.Code == errs.CodeLimitExceeded
}
