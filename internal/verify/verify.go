// Package verify implements the Verification Pipeline (C8): a declarative
// check list run against a fetch result, producing a pass/fail verdict,
// a confidence score, and a retry/fallback/report hint.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmylchreest/wayfarer/internal/core"
)

// Mode names one of the built-in check sets.
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeStandard Mode = "standard"
	ModeThorough Mode = "thorough"
)

// Severity ranks how much a failed check should affect the overall
// verdict and confidence score.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string
	Passed   bool
	Message  string
	Severity Severity
}

// OnFailureHint tells the caller (the tiered fetcher, C7) what to do
// next when verification fails.
type OnFailureHint string

const (
	HintRetry    OnFailureHint = "retry"
	HintFallback OnFailureHint = "fallback"
	HintReport   OnFailureHint = "report"
)

// SchemaError is one JSON-Schema validation failure.
type SchemaError struct {
	Path    string
	Message string
	Keyword string
}

// Report is the full outcome of running a Pipeline against one result.
type Report struct {
	Passed       bool
	Confidence   float64
	Checks       []CheckResult
	SchemaErrors []SchemaError
	OnFailure    OnFailureHint
}

// CheckType distinguishes the four check families a verification step
// can belong to.
type CheckType string

const (
	CheckContent CheckType = "content"
	CheckAction  CheckType = "action"
	CheckState   CheckType = "state"
	CheckCustom  CheckType = "custom"
)

// ContentAssertion is one content-family check: a field predicate against
// the fetched result.
type ContentAssertion string

const (
	AssertFieldExists    ContentAssertion = "field_exists"
	AssertFieldNotEmpty  ContentAssertion = "field_not_empty"
	AssertFieldMatches   ContentAssertion = "field_matches"
	AssertMinLength      ContentAssertion = "min_length"
	AssertMaxLength      ContentAssertion = "max_length"
)

// ActionAssertion is one action-family check against the raw HTTP result.
type ActionAssertion string

const (
	AssertStatusCode  ActionAssertion = "status_code"
	AssertContains    ActionAssertion = "contains_text"
	AssertExcludes    ActionAssertion = "excludes_text"
)

// StateProbe re-fetches a secondary URL (or calls an API) and requires
// success, delegated back through a narrow refetch interface to avoid an
// import cycle with the fetcher package.
type StateProbe struct {
	URL string
}

// Refetcher is the narrow contract a state-check needs: fetch a URL and
// report whether it succeeded.
type Refetcher interface {
	Refetch(ctx context.Context, rawURL string) (ok bool, err error)
}

// CustomCheck is a caller-supplied predicate against the result.
type CustomCheck func(core.FetchResult) CheckResult

// Check is one declarative verification step.
type Check struct {
	Name     string
	Type     CheckType
	Severity Severity

	// content checks
	Field     string
	Assertion ContentAssertion
	Pattern   string
	Length    int

	// action checks
	ActionAssertion ActionAssertion
	StatusCode      int
	Text            string

	// state checks
	State StateProbe

	// custom checks
	Custom CustomCheck
}

// Schema is a minimal draft-07 subset (type/required/properties/items/enum)
// validated against a result's structured data.
type Schema struct {
	Type       string
	Required   []string
	Properties map[string]Schema
	Items      *Schema
	Enum       []any
}

// Config configures a Pipeline.
type Config struct {
	Refetcher Refetcher
}

// Pipeline runs a named mode's built-in checks plus any caller-supplied
// checks, in order, against a fetch result.
type Pipeline struct {
	cfg Config
}

// New builds a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

func builtinChecks(mode Mode) []Check {
	switch mode {
	case ModeBasic:
		return []Check{statusCheck200(), minContentCheck(50, SeverityError)}
	case ModeStandard:
		return append(builtinChecks(ModeBasic), excludeChecks()...)
	case ModeThorough:
		return append(builtinChecks(ModeStandard), minContentCheck(100, SeverityWarning))
	default:
		return nil
	}
}

func statusCheck200() Check {
	return Check{Name: "status_200", Type: CheckAction, Severity: SeverityCritical, ActionAssertion: AssertStatusCode, StatusCode: 200}
}

func minContentCheck(n int, sev Severity) Check {
	return Check{Name: fmt.Sprintf("min_content_%d", n), Type: CheckContent, Severity: sev, Assertion: AssertMinLength, Field: "content", Length: n}
}

func excludeChecks() []Check {
	return []Check{
		{Name: "exclude_access_denied", Type: CheckAction, Severity: SeverityError, ActionAssertion: AssertExcludes, Text: "access denied"},
		{Name: "exclude_rate_limit", Type: CheckAction, Severity: SeverityError, ActionAssertion: AssertExcludes, Text: "rate limit exceeded"},
	}
}

// Run executes mode's built-in checks plus extra against result and
// returns the combined report.
func (p *Pipeline) Run(ctx context.Context, result core.FetchResult, mode Mode, extra []Check, schema *Schema) Report {
	checks := append(builtinChecks(mode), extra...)

	var results []CheckResult
	for _, c := range checks {
		results = append(results, p.runCheck(ctx, c, result))
	}

	report := Report{Checks: results}
	report.Confidence = confidenceFrom(results)
	report.Passed = !anySeverityAtLeast(results, SeverityError)

	if schema != nil && result.StructuredData != nil {
		report.SchemaErrors = validateSchema("$", *schema, result.StructuredData)
		if len(report.SchemaErrors) > 0 {
			report.Passed = false
		}
	}

	if !report.Passed {
		report.OnFailure = onFailureHint(results)
	}
	return report
}

// Verify is the narrow convenience entry point the tiered fetcher (C7)
// consumes: score a content's trustworthiness under the standard mode
// with no extra checks or schema.
func (p *Pipeline) Verify(ctx context.Context, content core.Content) (float64, error) {
	report := p.Run(ctx, core.FetchResult{HTTPStatus: 200, Content: content}, ModeStandard, nil, nil)
	return report.Confidence, nil
}

func (p *Pipeline) runCheck(ctx context.Context, c Check, result core.FetchResult) CheckResult {
	switch c.Type {
	case CheckContent:
		return p.runContentCheck(c, result)
	case CheckAction:
		return p.runActionCheck(c, result)
	case CheckState:
		return p.runStateCheck(ctx, c)
	case CheckCustom:
		if c.Custom == nil {
			return CheckResult{Name: c.Name, Passed: true, Severity: c.Severity}
		}
		return c.Custom(result)
	default:
		return CheckResult{Name: c.Name, Passed: true, Severity: c.Severity}
	}
}

func fieldValue(field string, result core.FetchResult) string {
	switch field {
	case "markdown":
		return result.Content.Markdown
	case "html":
		return result.Content.HTML
	case "content", "text", "":
		return longestOf(result.Content.Markdown, result.Content.Text)
	default:
		return ""
	}
}

func longestOf(a, b string) string {
	if len(a) >= len(b) {
		return a
	}
	return b
}

func (p *Pipeline) runContentCheck(c Check, result core.FetchResult) CheckResult {
	val := fieldValue(c.Field, result)
	switch c.Assertion {
	case AssertFieldExists:
		return CheckResult{Name: c.Name, Passed: val != "", Severity: c.Severity, Message: missingFieldMsg(c.Field, val != "")}
	case AssertFieldNotEmpty:
		return CheckResult{Name: c.Name, Passed: strings.TrimSpace(val) != "", Severity: c.Severity, Message: missingFieldMsg(c.Field, strings.TrimSpace(val) != "")}
	case AssertFieldMatches:
		matched := strings.Contains(val, c.Pattern)
		return CheckResult{Name: c.Name, Passed: matched, Severity: c.Severity, Message: fmt.Sprintf("field %q matches %q: %v", c.Field, c.Pattern, matched)}
	case AssertMinLength:
		passed := len(val) >= c.Length
		return CheckResult{Name: c.Name, Passed: passed, Severity: c.Severity, Message: fmt.Sprintf("length %d >= %d: %v", len(val), c.Length, passed)}
	case AssertMaxLength:
		passed := len(val) <= c.Length
		return CheckResult{Name: c.Name, Passed: passed, Severity: c.Severity, Message: fmt.Sprintf("length %d <= %d: %v", len(val), c.Length, passed)}
	default:
		return CheckResult{Name: c.Name, Passed: true, Severity: c.Severity}
	}
}

func missingFieldMsg(field string, ok bool) string {
	if ok {
		return fmt.Sprintf("field %q present", field)
	}
	return fmt.Sprintf("field %q missing or empty", field)
}

func (p *Pipeline) runActionCheck(c Check, result core.FetchResult) CheckResult {
	switch c.ActionAssertion {
	case AssertStatusCode:
		passed := result.HTTPStatus == c.StatusCode
		return CheckResult{Name: c.Name, Passed: passed, Severity: c.Severity, Message: fmt.Sprintf("status %d == %d: %v", result.HTTPStatus, c.StatusCode, passed)}
	case AssertContains:
		hay := strings.ToLower(longestOf(result.Content.Markdown, result.Content.Text))
		passed := strings.Contains(hay, strings.ToLower(c.Text))
		return CheckResult{Name: c.Name, Passed: passed, Severity: c.Severity, Message: fmt.Sprintf("contains %q: %v", c.Text, passed)}
	case AssertExcludes:
		hay := strings.ToLower(longestOf(result.Content.Markdown, result.Content.Text))
		passed := !strings.Contains(hay, strings.ToLower(c.Text))
		return CheckResult{Name: c.Name, Passed: passed, Severity: c.Severity, Message: fmt.Sprintf("excludes %q: %v", c.Text, passed)}
	default:
		return CheckResult{Name: c.Name, Passed: true, Severity: c.Severity}
	}
}

func (p *Pipeline) runStateCheck(ctx context.Context, c Check) CheckResult {
	if p.cfg.Refetcher == nil {
		return CheckResult{Name: c.Name, Passed: true, Severity: c.Severity, Message: "no refetcher configured, skipped"}
	}
	ok, err := p.cfg.Refetcher.Refetch(ctx, c.State.URL)
	if err != nil {
		return CheckResult{Name: c.Name, Passed: false, Severity: c.Severity, Message: err.Error()}
	}
	return CheckResult{Name: c.Name, Passed: ok, Severity: c.Severity, Message: fmt.Sprintf("secondary fetch of %s succeeded: %v", c.State.URL, ok)}
}

func anySeverityAtLeast(results []CheckResult, min Severity) bool {
	rank := map[Severity]int{SeverityWarning: 0, SeverityError: 1, SeverityCritical: 2}
	for _, r := range results {
		if !r.Passed && rank[r.Severity] >= rank[min] {
			return true
		}
	}
	return false
}

// confidenceFrom computes (passed/total), multiplied by 0.3 if any
// critical check failed, 0.6 if any error-severity check failed.
func confidenceFrom(results []CheckResult) float64 {
	if len(results) == 0 {
		return 1
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	base := float64(passed) / float64(len(results))

	hasCritical := false
	hasError := false
	for _, r := range results {
		if r.Passed {
			continue
		}
		switch r.Severity {
		case SeverityCritical:
			hasCritical = true
		case SeverityError:
			hasError = true
		}
	}
	switch {
	case hasCritical:
		return base * 0.3
	case hasError:
		return base * 0.6
	default:
		return base
	}
}

func onFailureHint(results []CheckResult) OnFailureHint {
	for _, r := range results {
		if !r.Passed && r.Severity == SeverityCritical {
			return HintFallback
		}
	}
	for _, r := range results {
		if !r.Passed && r.Severity == SeverityError {
			return HintRetry
		}
	}
	return HintReport
}
