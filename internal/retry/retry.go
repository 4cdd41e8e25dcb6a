// Package retry implements the Retry Engine (C3): classifies a failure
// into a core.FailureCategory and decides whether to retry, with what
// delay, or to abort. The engine never sleeps itself — callers drive the
// clock so cancellation stays cooperative.
package retry

import (
	"math/rand"
	"time"

	"github.com/jmylchreest/wayfarer/internal/core"
)

// Strategy names how a failure category is handled.
type Strategy string

const (
	StrategyNone            Strategy = "none"
	StrategyBackoff         Strategy = "backoff"
	StrategyIncreaseTimeout Strategy = "increase_timeout"
	StrategyTryAlternative  Strategy = "try_alternative"
)

type policy struct {
	strategy Strategy
	initial  time.Duration
	max      time.Duration
	retries  int
	mult     float64
}

var policies = map[core.FailureCategory]policy{
	core.FailureAuthRequired:    {StrategyNone, 0, 0, 0, 0},
	core.FailureRateLimited:     {StrategyBackoff, 60 * time.Second, 5 * time.Minute, 3, 2},
	core.FailureWrongEndpoint:   {StrategyNone, 0, 0, 0, 0},
	core.FailureServerError:     {StrategyBackoff, 5 * time.Second, time.Minute, 2, 2},
	core.FailureTimeout:         {StrategyIncreaseTimeout, time.Second, 10 * time.Second, 2, 1.5},
	core.FailureParseError:      {StrategyTryAlternative, 0, 0, 0, 0},
	core.FailureValidationFail:  {StrategyTryAlternative, 0, 0, 0, 0},
	core.FailureContentTooShort: {StrategyTryAlternative, 0, 0, 0, 0},
	core.FailureNetworkError:    {StrategyBackoff, 2 * time.Second, 30 * time.Second, 3, 2},
	core.FailureUnknown:         {StrategyTryAlternative, 0, 0, 0, 0},
}

// Decision is what the engine recommends for one failed attempt.
type Decision struct {
	Retry    bool
	Strategy Strategy
	DelayMs  int64
	Category core.FailureCategory
}

// Engine evaluates failures against the strategy table. Rand is
// injectable for deterministic jitter in tests; a nil Engine (zero value)
// uses math/rand's package-level source.
type Engine struct {
	rand *rand.Rand
}

// New builds a retry Engine with the default jitter source.
func New() *Engine {
	return &Engine{}
}

// NewWithRand builds a retry Engine using a caller-supplied deterministic
// random source, for reproducible jitter in tests.
func NewWithRand(r *rand.Rand) *Engine {
	return &Engine{rand: r}
}

func (e *Engine) jitterFloat() float64 {
	if e.rand != nil {
		return e.rand.Float64()
	}
	return rand.Float64()
}

// Decide returns the retry decision for attempt (1-indexed: the attempt
// number that just failed) classified under category.
func (e *Engine) Decide(category core.FailureCategory, attempt int) Decision {
	p, ok := policies[category]
	if !ok {
		p = policies[core.FailureUnknown]
	}

	if p.strategy == StrategyNone || p.strategy == StrategyTryAlternative {
		return Decision{Retry: p.strategy == StrategyTryAlternative, Strategy: p.strategy, Category: category}
	}

	if attempt > p.retries {
		return Decision{Retry: false, Strategy: p.strategy, Category: category}
	}

	delay := float64(p.initial) * pow(p.mult, attempt-1)
	if delay > float64(p.max) {
		delay = float64(p.max)
	}

	jitter := (e.jitterFloat()*2 - 1) * 0.3 // +/-30%
	delay = delay * (1 + jitter)
	if delay < 0 {
		delay = 0
	}

	return Decision{
		Retry:    true,
		Strategy: p.strategy,
		DelayMs:  int64(delay / float64(time.Millisecond)),
		Category: category,
	}
}

// MaxRetries returns the configured retry count for category, useful for
// callers tracking attempt budgets independently (e.g. the tiered
// fetcher's tiers_attempted bookkeeping).
func MaxRetries(category core.FailureCategory) int {
	if p, ok := policies[category]; ok {
		return p.retries
	}
	return 0
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
