package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/wayfarer/internal/core"
	"github.com/jmylchreest/wayfarer/internal/errs"
	"github.com/jmylchreest/wayfarer/internal/patterns"
	"github.com/jmylchreest/wayfarer/internal/retry"
	"github.com/jmylchreest/wayfarer/internal/safety"
	"github.com/jmylchreest/wayfarer/internal/scheduler"
)

const defaultMinIntelligenceConfidence = 0.8

// IntelligenceSource is the narrow slice of the pattern registry (C4) the
// tiered fetcher needs: match candidates and apply the winning one. The
// fetcher never implements pattern application itself — it delegates.
type IntelligenceSource interface {
	Match(domain, rawURL string) ([]patterns.Match, error)
	Apply(ctx context.Context, match patterns.Match) (patterns.ApplicationResult, error)
}

// PlaywrightResult is what the playwright tier returns: a rendered fetch
// exposing captured network traffic, console messages, and the final DOM.
type PlaywrightResult struct {
	StatusCode      int
	Content         core.Content
	DiscoveredAPIs  []core.DiscoveredAPI
	ConsoleMessages []string
}

// PlaywrightTier is implemented by an external headless-browser
// collaborator; the tiered fetcher only consumes this contract, never the
// browser driver itself.
type PlaywrightTier interface {
	Fetch(ctx context.Context, rawURL string, opts core.FetchOptions) (PlaywrightResult, error)
}

// Verifier is the narrow slice of the verification pipeline (C8) the
// fetcher needs: score a fetched content's trustworthiness.
type Verifier interface {
	Verify(ctx context.Context, content core.Content) (confidence float64, err error)
}

type passthroughVerifier struct{}

func (passthroughVerifier) Verify(context.Context, core.Content) (float64, error) { return 1, nil }

// Config wires the tiered fetcher's collaborators and tunables.
type Config struct {
	Intelligence             IntelligenceSource
	Lightweight              *LightweightTier
	Playwright               PlaywrightTier
	Verifier                 Verifier
	Retry                    *retry.Engine
	Scheduler                *scheduler.Scheduler
	SafetyConfig             safety.Config
	MinIntelligenceConfidence float64
}

func (c *Config) withDefaults() {
	if c.Verifier == nil {
		c.Verifier = passthroughVerifier{}
	}
	if c.Retry == nil {
		c.Retry = retry.New()
	}
	if c.Scheduler == nil {
		c.Scheduler = scheduler.New()
	}
	if c.MinIntelligenceConfidence == 0 {
		c.MinIntelligenceConfidence = defaultMinIntelligenceConfidence
	}
}

// Fetcher escalates across intelligence/lightweight/playwright tiers
// until one both fetches and passes verification.
type Fetcher struct {
	cfg Config
	now func() time.Time
}

// New builds a tiered Fetcher.
func New(cfg Config) *Fetcher {
	cfg.withDefaults()
	return &Fetcher{cfg: cfg, now: time.Now}
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

// Fetch runs the C7 ordering policy against rawURL and returns the first
// result that both fetches and passes verification.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts core.FetchOptions) (core.FetchResult, error) {
	safetyResult := safety.Validate(rawURL, f.cfg.SafetyConfig)
	if !safetyResult.Safe {
		return core.FetchResult{}, errs.InvalidRequest(safetyResult.Reason, string(safetyResult.Category))
	}

	domain := domainOf(rawURL)
	start := f.now()

	plan := f.buildPlan(domain, rawURL, opts)

	var trace []core.DecisionTraceEntry
	var tried []core.Tier
	var lastErr error

	for _, step := range plan {
		if opts.IncludeDecisionTrace {
			trace = append(trace, core.DecisionTraceEntry{Tier: step.tier, Action: "attempt", Reason: step.reason, Timestamp: f.now()})
		}
		tried = append(tried, step.tier)

		result, category, attemptErr := f.attempt(ctx, domain, rawURL, opts, step)
		if attemptErr == nil {
			confidence, verifyErr := f.cfg.Verifier.Verify(ctx, result.Content)
			if verifyErr == nil && confidence > 0 {
				result.TierUsed = step.tier
				result.TiersAttempted = tried
				result.DurationMs = f.now().Sub(start).Milliseconds()
				result.TierCostUnits = totalCost(tried)
				result.VerificationConfidence = confidence
				result.DecisionTrace = trace
				return result, nil
			}
			lastErr = fmt.Errorf("tier %s produced content that failed verification", step.tier)
			category = core.FailureValidationFail
		} else {
			lastErr = attemptErr
		}

		decision := f.cfg.Retry.Decide(category, 1)
		if opts.IncludeDecisionTrace {
			trace = append(trace, core.DecisionTraceEntry{Tier: step.tier, Action: string(decision.Strategy), Reason: string(category), Timestamp: f.now()})
		}

		switch decision.Strategy {
		case retry.StrategyNone:
			return core.FetchResult{}, errs.FromFailureCategory(category, lastErr.Error())
		case retry.StrategyBackoff:
			if err := sleepCtx(ctx, time.Duration(decision.DelayMs)*time.Millisecond); err != nil {
				return core.FetchResult{}, err
			}
			// retry the same tier before moving on to the next planned one.
			retryResult, _, retryErr := f.attempt(ctx, domain, rawURL, opts, step)
			if retryErr == nil {
				confidence, verifyErr := f.cfg.Verifier.Verify(ctx, retryResult.Content)
				if verifyErr == nil && confidence > 0 {
					retryResult.TierUsed = step.tier
					retryResult.TiersAttempted = tried
					retryResult.DurationMs = f.now().Sub(start).Milliseconds()
					retryResult.TierCostUnits = totalCost(tried)
					retryResult.VerificationConfidence = confidence
					retryResult.DecisionTrace = trace
					return retryResult, nil
				}
			}
			lastErr = retryErr
		case retry.StrategyIncreaseTimeout:
			opts.MaxLatencyMs = opts.MaxLatencyMs * 2
		case retry.StrategyTryAlternative:
			// fall through to the next planned tier, i.e. continue the loop.
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no fetch tier was able to satisfy the request")
	}
	return core.FetchResult{}, errs.FromFailureCategory(core.FailureUnknown, lastErr.Error())
}

type planStep struct {
	tier   core.Tier
	reason string
}

// buildPlan implements the ordering policy: if C4's top match clears the
// confidence bar, attempt intelligence first; otherwise start from the
// minimum tier permitted by the request and escalate in order.
func (f *Fetcher) buildPlan(domain, rawURL string, opts core.FetchOptions) []planStep {
	var plan []planStep

	preferIntelligence := false
	if f.cfg.Intelligence != nil {
		matches, err := f.cfg.Intelligence.Match(domain, rawURL)
		if err == nil && len(matches) > 0 && matches[0].Confidence >= f.cfg.MinIntelligenceConfidence {
			preferIntelligence = true
		}
	}

	maxCost := opts.MaxCostTier.CostUnits()
	if opts.MaxCostTier == "" {
		maxCost = core.TierPlaywright.CostUnits()
	}

	if preferIntelligence {
		plan = append(plan, planStep{core.TierIntelligence, "top pattern match confidence >= threshold"})
	}

	for tier, ok := core.TierIntelligence, true; ok; tier, ok = tier.Next() {
		if tier.CostUnits() > maxCost {
			break
		}
		if !containsTier(plan, tier) {
			plan = append(plan, planStep{tier, "escalating within the permitted cost tier"})
		}
	}

	return plan
}

func containsTier(plan []planStep, tier core.Tier) bool {
	for _, s := range plan {
		if s.tier == tier {
			return true
		}
	}
	return false
}

func totalCost(tiers []core.Tier) int {
	total := 0
	for _, t := range tiers {
		total += t.CostUnits()
	}
	return total
}

func (f *Fetcher) attempt(ctx context.Context, domain, rawURL string, opts core.FetchOptions, step planStep) (core.FetchResult, core.FailureCategory, error) {
	var result core.FetchResult
	var category core.FailureCategory
	var attemptErr error

	throttleErr := f.cfg.Scheduler.WithThrottle(ctx, domain, func(ctx context.Context) error {
		switch step.tier {
		case core.TierIntelligence:
			result, category, attemptErr = f.attemptIntelligence(ctx, domain, rawURL)
		case core.TierLightweight:
			result, category, attemptErr = f.attemptLightweight(rawURL, opts)
		case core.TierPlaywright:
			result, category, attemptErr = f.attemptPlaywright(ctx, rawURL, opts)
		default:
			attemptErr = fmt.Errorf("unknown tier %s", step.tier)
			category = core.FailureUnknown
		}
		return nil
	})
	if throttleErr != nil {
		return core.FetchResult{}, core.FailureUnknown, throttleErr
	}
	return result, category, attemptErr
}

func (f *Fetcher) attemptIntelligence(ctx context.Context, domain, rawURL string) (core.FetchResult, core.FailureCategory, error) {
	if f.cfg.Intelligence == nil {
		return core.FetchResult{}, core.FailureUnknown, fmt.Errorf("no intelligence source configured")
	}
	matches, err := f.cfg.Intelligence.Match(domain, rawURL)
	if err != nil || len(matches) == 0 {
		return core.FetchResult{}, core.FailureWrongEndpoint, fmt.Errorf("no pattern match for %s", rawURL)
	}
	applied, err := f.cfg.Intelligence.Apply(ctx, matches[0])
	if err != nil {
		return core.FetchResult{}, core.FailureUnknown, err
	}
	if !applied.Success {
		return core.FetchResult{}, applied.Category, fmt.Errorf("%s", applied.Message)
	}
	return core.FetchResult{
		FinalURL:   matches[0].APIEndpoint,
		HTTPStatus: applied.StatusCode,
		Content:    applied.Content,
	}, "", nil
}

func (f *Fetcher) attemptLightweight(rawURL string, opts core.FetchOptions) (core.FetchResult, core.FailureCategory, error) {
	if f.cfg.Lightweight == nil {
		return core.FetchResult{}, core.FailureUnknown, fmt.Errorf("no lightweight tier configured")
	}
	lwResult, err := f.cfg.Lightweight.Fetch(rawURL, opts)
	if err != nil {
		return core.FetchResult{}, core.FailureNetworkError, err
	}

	detector := NewProtectionDetector()
	detection := detector.DetectFromResponse(lwResult.StatusCode, lwResult.Headers, lwResult.Body)
	if detection.Detected {
		return core.FetchResult{}, detection.Classify(), fmt.Errorf("%s", detection.UserMessage())
	}
	if lwResult.StatusCode >= 400 {
		cat := core.ClassifyStatusCode(lwResult.StatusCode)
		return core.FetchResult{}, cat, fmt.Errorf("unexpected status %d", lwResult.StatusCode)
	}

	return core.FetchResult{
		FinalURL:   rawURL,
		HTTPStatus: lwResult.StatusCode,
		Content:    lwResult.Content,
		Links:      lwResult.Links,
	}, "", nil
}

func (f *Fetcher) attemptPlaywright(ctx context.Context, rawURL string, opts core.FetchOptions) (core.FetchResult, core.FailureCategory, error) {
	if f.cfg.Playwright == nil {
		return core.FetchResult{}, core.FailureUnknown, fmt.Errorf("no playwright tier configured")
	}
	pwResult, err := f.cfg.Playwright.Fetch(ctx, rawURL, opts)
	if err != nil {
		return core.FetchResult{}, core.FailureTimeout, err
	}
	if pwResult.StatusCode >= 400 {
		cat := core.ClassifyStatusCode(pwResult.StatusCode)
		return core.FetchResult{}, cat, fmt.Errorf("unexpected status %d", pwResult.StatusCode)
	}
	return core.FetchResult{
		FinalURL:       rawURL,
		HTTPStatus:     pwResult.StatusCode,
		Content:        pwResult.Content,
		DiscoveredAPIs: pwResult.DiscoveredAPIs,
	}, "", nil
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
