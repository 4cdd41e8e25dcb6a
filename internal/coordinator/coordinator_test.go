package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/wayfarer/internal/core"
	"github.com/jmylchreest/wayfarer/internal/errs"
	"github.com/jmylchreest/wayfarer/internal/webhook"
)

type stubFetcher struct {
	result core.FetchResult
	err    error
}

func (s stubFetcher) Fetch(context.Context, string, core.FetchOptions) (core.FetchResult, error) {
	return s.result, s.err
}

type stubPatternMatcher struct {
	patternID string
	found     bool
}

func (s stubPatternMatcher) Match(string, string) (string, bool) { return s.patternID, s.found }

type recordingHealth struct {
	mu    sync.Mutex
	calls []bool
}

func (r *recordingHealth) Record(_ string, success bool, _ map[core.FailureCategory]int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, success)
	return false
}

func (r *recordingHealth) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingAntiPattern struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingAntiPattern) RecordFailure(string, string, core.FailureCategory) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return false
}

func (r *recordingAntiPattern) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingUsage struct {
	mu    sync.Mutex
	units int64
}

func (r *recordingUsage) Increment(_ context.Context, _ string, _ core.Tier, units int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units += units
	return nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev webhook.Event) []*webhook.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingDispatcher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func waitForBookkeeping(t *testing.T, c *Coordinator) func() {
	t.Helper()
	done := make(chan struct{})
	c.cfg.afterBookkeeping = func() { close(done) }
	return func() {
		t.Helper()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("bookkeeping goroutine did not finish in time")
		}
	}
}

func TestExecute_SuccessRecordsHealthUsageAndDispatch(t *testing.T) {
	health := &recordingHealth{}
	usage := &recordingUsage{}
	dispatcher := &recordingDispatcher{}

	c := New(Config{
		Fetcher:  stubFetcher{result: core.FetchResult{TierUsed: core.TierLightweight, TierCostUnits: 5, HTTPStatus: 200}},
		Patterns: stubPatternMatcher{patternID: "pat-1", found: true},
		Health:   health,
		Usage:    usage,
		Webhooks: dispatcher,
	})
	wait := waitForBookkeeping(t, c)

	result, err := c.Execute(context.Background(), "tenant-1", "https://example.com/a", core.FetchOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.HTTPStatus != 200 {
		t.Errorf("HTTPStatus = %d, want 200", result.HTTPStatus)
	}

	wait()
	if health.count() != 1 {
		t.Errorf("health.Record called %d times, want 1", health.count())
	}
	if usage.units != 5 {
		t.Errorf("usage units = %d, want 5", usage.units)
	}
	types := dispatcher.types()
	if len(types) != 1 || types[0] != "fetch.succeeded" {
		t.Errorf("dispatched events = %v, want [fetch.succeeded]", types)
	}
}

func TestExecute_FailureRecordsAntiPatternAndDispatchesFailedEvent(t *testing.T) {
	antiPat := &recordingAntiPattern{}
	dispatcher := &recordingDispatcher{}

	c := New(Config{
		Fetcher:      stubFetcher{err: errs.FromFailureCategory(core.FailureServerError, "boom")},
		Patterns:     stubPatternMatcher{patternID: "pat-1", found: true},
		AntiPatterns: antiPat,
		Webhooks:     dispatcher,
	})
	wait := waitForBookkeeping(t, c)

	_, err := c.Execute(context.Background(), "tenant-1", "https://example.com/a", core.FetchOptions{})
	if err == nil {
		t.Fatalf("expected error from stub fetcher")
	}

	wait()
	if antiPat.count() != 1 {
		t.Errorf("anti-pattern RecordFailure called %d times, want 1", antiPat.count())
	}
	types := dispatcher.types()
	if len(types) != 1 || types[0] != "fetch.failed" {
		t.Errorf("dispatched events = %v, want [fetch.failed]", types)
	}
}

func TestExecute_ReturnsImmediatelyWithoutWaitingForBookkeeping(t *testing.T) {
	blocking := make(chan struct{})
	dispatcher := dispatcherThatBlocksUntil(blocking)

	c := New(Config{
		Fetcher:  stubFetcher{result: core.FetchResult{TierUsed: core.TierLightweight}},
		Webhooks: dispatcher,
	})

	start := time.Now()
	_, err := c.Execute(context.Background(), "tenant-1", "https://example.com/a", core.FetchOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("Execute() took too long, bookkeeping should not block the caller")
	}
	close(blocking)
}

type blockingDispatcher struct{ blocking <-chan struct{} }

func (b blockingDispatcher) Dispatch(context.Context, webhook.Event) []*webhook.Delivery {
	<-b.blocking
	return nil
}

func dispatcherThatBlocksUntil(ch <-chan struct{}) blockingDispatcher {
	return blockingDispatcher{blocking: ch}
}

func TestExecute_NoPatternSkipsHealthAndAntiPattern(t *testing.T) {
	health := &recordingHealth{}
	antiPat := &recordingAntiPattern{}

	c := New(Config{
		Fetcher:      stubFetcher{err: errs.FromFailureCategory(core.FailureServerError, "boom")},
		Patterns:     stubPatternMatcher{found: false},
		Health:       health,
		AntiPatterns: antiPat,
	})
	wait := waitForBookkeeping(t, c)

	_, _ = c.Execute(context.Background(), "tenant-1", "https://example.com/a", core.FetchOptions{})
	wait()

	if health.count() != 0 {
		t.Errorf("health.Record called %d times, want 0 (no pattern matched)", health.count())
	}
	if antiPat.count() != 0 {
		t.Errorf("anti-pattern RecordFailure called %d times, want 0 (no pattern matched)", antiPat.count())
	}
}
