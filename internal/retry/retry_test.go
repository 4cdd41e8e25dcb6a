package retry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/jmylchreest/wayfarer/internal/core"
)

func TestDecide_AuthRequiredNeverRetries(t *testing.T) {
	e := New()
	d := e.Decide(core.FailureAuthRequired, 1)
	if d.Retry {
		t.Error("auth_required should never retry")
	}
	if d.Strategy != StrategyNone {
		t.Errorf("Strategy = %v, want %v", d.Strategy, StrategyNone)
	}
}

func TestDecide_WrongEndpointNeverRetries(t *testing.T) {
	e := New()
	d := e.Decide(core.FailureWrongEndpoint, 1)
	if d.Retry {
		t.Error("wrong_endpoint should never retry")
	}
}

func TestDecide_TryAlternativeCategoriesSignalNoDelayRetry(t *testing.T) {
	e := New()
	for _, cat := range []core.FailureCategory{
		core.FailureParseError,
		core.FailureValidationFail,
		core.FailureContentTooShort,
		core.FailureUnknown,
	} {
		d := e.Decide(cat, 1)
		if !d.Retry {
			t.Errorf("%v should signal retry=true (try_alternative)", cat)
		}
		if d.Strategy != StrategyTryAlternative {
			t.Errorf("%v Strategy = %v, want %v", cat, d.Strategy, StrategyTryAlternative)
		}
		if d.DelayMs != 0 {
			t.Errorf("%v try_alternative should carry no delay, got %d", cat, d.DelayMs)
		}
	}
}

func TestDecide_RateLimitedBacksOffWithinBounds(t *testing.T) {
	e := NewWithRand(rand.New(rand.NewSource(1)))
	d := e.Decide(core.FailureRateLimited, 1)
	if !d.Retry {
		t.Fatal("rate_limited attempt 1 should retry")
	}
	// initial 60s +/- 30% jitter => [42s, 78s]
	if d.DelayMs < 42000 || d.DelayMs > 78000 {
		t.Errorf("DelayMs = %d, want within [42000, 78000]", d.DelayMs)
	}
}

func TestDecide_RateLimitedExhaustsAfterMaxRetries(t *testing.T) {
	e := New()
	d := e.Decide(core.FailureRateLimited, 4) // only 3 retries configured
	if d.Retry {
		t.Error("rate_limited attempt 4 should abort, max retries is 3")
	}
}

func TestDecide_ServerErrorDelayStaysUnderMaxDelay(t *testing.T) {
	e := NewWithRand(rand.New(rand.NewSource(2)))
	// attempt 2: initial 5s * mult(2)^1 = 10s, under 1m cap.
	d := e.Decide(core.FailureServerError, 2)
	if !d.Retry {
		t.Fatal("server_error attempt 2 should retry")
	}
	if d.DelayMs > int64(time.Minute/time.Millisecond) {
		t.Errorf("DelayMs = %d, should not exceed max delay of 60000ms", d.DelayMs)
	}

	// server_error allows only 2 retries, so attempt 2 is the largest
	// retriable delay: 5s * 2^1 = 10s unclamped, well under the 1 minute
	// ceiling, and +/-30% jitter keeps it within [7s, 13s].
	d = e.Decide(core.FailureServerError, 2)
	uncapped := 5000.0 * pow(2, 1)
	if uncapped >= 60000 {
		t.Fatal("test assumption broken: expected attempt 2's unclamped delay to stay under the cap")
	}
	if d.DelayMs < 7000 || d.DelayMs > 13000 {
		t.Errorf("DelayMs = %d, want within [7000, 13000]", d.DelayMs)
	}
}

func TestDecide_TimeoutUsesIncreaseTimeoutStrategy(t *testing.T) {
	e := New()
	d := e.Decide(core.FailureTimeout, 1)
	if d.Strategy != StrategyIncreaseTimeout {
		t.Errorf("Strategy = %v, want %v", d.Strategy, StrategyIncreaseTimeout)
	}
	if !d.Retry {
		t.Error("timeout attempt 1 should retry")
	}
}

func TestDecide_NetworkErrorRetriesThreeTimes(t *testing.T) {
	e := New()
	for attempt := 1; attempt <= 3; attempt++ {
		if !e.Decide(core.FailureNetworkError, attempt).Retry {
			t.Errorf("network_error attempt %d should retry", attempt)
		}
	}
	if e.Decide(core.FailureNetworkError, 4).Retry {
		t.Error("network_error attempt 4 should abort")
	}
}

func TestDecide_UnknownCategoryFallsBackToUnknownPolicy(t *testing.T) {
	e := New()
	d := e.Decide(core.FailureCategory("not_a_real_category"), 1)
	if d.Strategy != StrategyTryAlternative {
		t.Errorf("Strategy = %v, want %v for an unrecognized category", d.Strategy, StrategyTryAlternative)
	}
}

func TestDecide_DelayNeverNegative(t *testing.T) {
	e := NewWithRand(rand.New(rand.NewSource(3)))
	for attempt := 1; attempt <= 3; attempt++ {
		d := e.Decide(core.FailureNetworkError, attempt)
		if d.DelayMs < 0 {
			t.Errorf("DelayMs = %d, must never be negative", d.DelayMs)
		}
	}
}

func TestMaxRetries(t *testing.T) {
	if got := MaxRetries(core.FailureRateLimited); got != 3 {
		t.Errorf("MaxRetries(rate_limited) = %d, want 3", got)
	}
	if got := MaxRetries(core.FailureAuthRequired); got != 0 {
		t.Errorf("MaxRetries(auth_required) = %d, want 0", got)
	}
	if got := MaxRetries(core.FailureCategory("bogus")); got != 0 {
		t.Errorf("MaxRetries(bogus) = %d, want 0", got)
	}
}
