// Package fetcher implements the tiered fetch strategy (C7): escalating
// through intelligence, lightweight, and playwright tiers, guided by
// pattern confidence and the protection signals detected here.
package fetcher

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/jmylchreest/wayfarer/internal/core"
)

// Signal identifies the kind of anti-bot or rendering obstacle detected in
// a response, independent of the coarser core.FailureCategory every other
// component classifies against.
type Signal string

const (
	SignalNone               Signal = ""
	SignalCloudflare         Signal = "cloudflare"
	SignalCaptcha            Signal = "captcha"
	SignalAccessDenied       Signal = "access_denied"
	SignalRateLimited        Signal = "rate_limited"
	SignalEmptyContent       Signal = "empty_content"
	SignalJavaScriptRequired Signal = "javascript_required"
)

// Detection is the result of inspecting one HTTP response for protection
// or rendering obstacles.
type Detection struct {
	Detected bool
	Signal   Signal

	// Confidence is a score from 0-100 indicating detection confidence.
	Confidence int

	Description string

	// SuggestDynamic is true if escalating to the playwright tier would
	// likely help.
	SuggestDynamic bool
}

// Classify maps the detection onto the shared failure taxonomy so the
// retry engine (C3) and pattern health monitor (C6) can reason about it
// without knowing this package's signal vocabulary.
func (d Detection) Classify() core.FailureCategory {
	if !d.Detected {
		return core.FailureUnknown
	}
	switch d.Signal {
	case SignalCloudflare, SignalCaptcha, SignalAccessDenied:
		return core.FailureAuthRequired
	case SignalRateLimited:
		return core.FailureRateLimited
	case SignalEmptyContent, SignalJavaScriptRequired:
		return core.FailureContentTooShort
	default:
		return core.FailureUnknown
	}
}

// IsRetryable returns true if escalating tiers might resolve the
// obstacle.
func (d Detection) IsRetryable() bool {
	return d.SuggestDynamic
}

// ProtectionDetector analyzes HTTP responses for bot protection and
// JavaScript-rendering obstacles, feeding the tier escalation decision
// in C7 and the failure classification consumed by C3/C6.
type ProtectionDetector struct {
	// MinContentLength is the minimum expected content length for a real
	// page. Responses shorter than this may indicate a challenge page.
	MinContentLength int
}

// NewProtectionDetector creates a detector with default thresholds.
func NewProtectionDetector() *ProtectionDetector {
	return &ProtectionDetector{MinContentLength: 500}
}

// DetectFromResponse analyzes an HTTP response for protection signals.
func (d *ProtectionDetector) DetectFromResponse(statusCode int, headers http.Header, body []byte) Detection {
	if result := d.checkStatusCode(statusCode); result.Detected {
		return result
	}
	if result := d.checkHeaders(headers); result.Detected {
		return result
	}
	if result := d.checkBodyContent(body); result.Detected {
		return result
	}
	return Detection{Detected: false}
}

// DetectFromContent analyzes page content directly (when headers aren't
// available, e.g. content handed back from the playwright tier).
func (d *ProtectionDetector) DetectFromContent(statusCode int, content string) Detection {
	return d.DetectFromResponse(statusCode, nil, []byte(content))
}

func (d *ProtectionDetector) checkStatusCode(statusCode int) Detection {
	switch statusCode {
	case http.StatusForbidden:
		return Detection{
			Detected:       true,
			Signal:         SignalAccessDenied,
			Confidence:     90,
			Description:    "Access denied (HTTP 403) - site may be blocking automated requests",
			SuggestDynamic: true,
		}
	case http.StatusServiceUnavailable:
		return Detection{
			Detected:       true,
			Signal:         SignalCloudflare,
			Confidence:     70,
			Description:    "Service unavailable (HTTP 503) - may indicate Cloudflare or similar challenge",
			SuggestDynamic: true,
		}
	case http.StatusTooManyRequests:
		return Detection{
			Detected:       true,
			Signal:         SignalRateLimited,
			Confidence:     95,
			Description:    "Rate limited (HTTP 429) - too many requests",
			SuggestDynamic: false,
		}
	}
	return Detection{Detected: false}
}

func (d *ProtectionDetector) checkHeaders(headers http.Header) Detection {
	if headers == nil {
		return Detection{Detected: false}
	}

	if cf := headers.Get("cf-ray"); cf != "" {
		if headers.Get("cf-mitigated") == "challenge" {
			return Detection{
				Detected:       true,
				Signal:         SignalCloudflare,
				Confidence:     95,
				Description:    "Cloudflare challenge detected",
				SuggestDynamic: true,
			}
		}
	}

	return Detection{Detected: false}
}

var (
	cloudflarePatterns = []string{
		"cf-browser-verification",
		"challenge-platform",
		"cf_chl_opt",
		"_cf_chl",
		"checking your browser",
		"please wait... | cloudflare",
		"just a moment...",
		"attention required! | cloudflare",
		"ray id:",
	}

	captchaPatterns = []string{
		"g-recaptcha",
		"grecaptcha",
		"h-captcha",
		"hcaptcha",
		"data-sitekey",
		"captcha-container",
		"turnstile",
		"cf-turnstile",
	}

	accessDeniedPatterns = []string{
		"access denied",
		"access to this page has been denied",
		"you don't have permission",
		"request blocked",
		"forbidden",
		"bot detected",
		"automated access",
		"please verify you are human",
		"are you a robot",
		"prove you're not a robot",
	}

	jsRequiredPatterns = []string{
		"enable javascript",
		"javascript is required",
		"requires javascript",
		"please enable javascript",
		"this site requires javascript",
		"<noscript>",
	}

	contentIndicatorRegex = regexp.MustCompile(`<(article|main|section|div[^>]*class[^>]*content)[^>]*>`)

	spaRootPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<div\s+id=["'](?:root|app|__next|__nuxt)["'][^>]*>\s*</div>`),
		regexp.MustCompile(`<app-root[^>]*>\s*</app-root>`),
		regexp.MustCompile(`<div\s+id=["']react-root["'][^>]*>\s*</div>`),
	}

	htmlTagRegex    = regexp.MustCompile(`<[^>]+>`)
	scriptRegex     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRegex      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptRegex   = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

func (d *ProtectionDetector) checkBodyContent(body []byte) Detection {
	if len(body) == 0 {
		return Detection{
			Detected:       true,
			Signal:         SignalEmptyContent,
			Confidence:     80,
			Description:    "Empty response body - may indicate blocked request",
			SuggestDynamic: true,
		}
	}

	content := string(body)
	contentLower := strings.ToLower(content)

	for _, pattern := range cloudflarePatterns {
		if strings.Contains(contentLower, pattern) {
			return Detection{
				Detected:       true,
				Signal:         SignalCloudflare,
				Confidence:     90,
				Description:    "Cloudflare challenge page detected",
				SuggestDynamic: true,
			}
		}
	}

	for _, pattern := range captchaPatterns {
		if strings.Contains(contentLower, pattern) {
			return Detection{
				Detected:       true,
				Signal:         SignalCaptcha,
				Confidence:     95,
				Description:    "Captcha challenge detected",
				SuggestDynamic: true,
			}
		}
	}

	for _, pattern := range accessDeniedPatterns {
		if strings.Contains(contentLower, pattern) {
			return Detection{
				Detected:       true,
				Signal:         SignalAccessDenied,
				Confidence:     85,
				Description:    "Access denied message detected",
				SuggestDynamic: true,
			}
		}
	}

	for _, pattern := range jsRequiredPatterns {
		if strings.Contains(contentLower, pattern) {
			return Detection{
				Detected:       true,
				Signal:         SignalJavaScriptRequired,
				Confidence:     80,
				Description:    "Page requires JavaScript to render content",
				SuggestDynamic: true,
			}
		}
	}

	for _, pattern := range spaRootPatterns {
		if pattern.MatchString(content) {
			return Detection{
				Detected:       true,
				Signal:         SignalJavaScriptRequired,
				Confidence:     90,
				Description:    "SPA framework detected with empty root - content is JavaScript-rendered",
				SuggestDynamic: true,
			}
		}
	}

	if result := d.checkTextContentRatio(content); result.Detected {
		return result
	}

	if len(body) < d.MinContentLength {
		if !contentIndicatorRegex.MatchString(content) {
			return Detection{
				Detected:       true,
				Signal:         SignalEmptyContent,
				Confidence:     60,
				Description:    "Response too small - may be a challenge or error page",
				SuggestDynamic: true,
			}
		}
	}

	return Detection{Detected: false}
}

func (d *ProtectionDetector) checkTextContentRatio(content string) Detection {
	cleaned := scriptRegex.ReplaceAllString(content, "")
	cleaned = styleRegex.ReplaceAllString(cleaned, "")
	cleaned = noscriptRegex.ReplaceAllString(cleaned, "")

	visibleText := htmlTagRegex.ReplaceAllString(cleaned, " ")
	visibleText = whitespaceRegex.ReplaceAllString(visibleText, " ")
	visibleText = strings.TrimSpace(visibleText)

	textLength := len(visibleText)
	htmlLength := len(content)

	const minVisibleText = 500
	const minTextRatio = 0.02

	if textLength < minVisibleText {
		linkCount := strings.Count(strings.ToLower(content), "<a ")
		if linkCount > 5 && textLength < 300 {
			return Detection{
				Detected:       true,
				Signal:         SignalJavaScriptRequired,
				Confidence:     75,
				Description:    "Page appears to have only navigation/footer content - main content likely requires JavaScript",
				SuggestDynamic: true,
			}
		}
	}

	if htmlLength > 1000 && float64(textLength)/float64(htmlLength) < minTextRatio {
		return Detection{
			Detected:       true,
			Signal:         SignalJavaScriptRequired,
			Confidence:     70,
			Description:    "Very low text content ratio - page likely renders content via JavaScript",
			SuggestDynamic: true,
		}
	}

	return Detection{Detected: false}
}

// UserMessage returns a human-readable explanation of the detection,
// surfaced in DecisionTraceEntry.Reason when tier escalation occurs.
func (d Detection) UserMessage() string {
	if !d.Detected {
		return ""
	}
	switch d.Signal {
	case SignalCloudflare:
		return "Cloudflare challenge detected; escalating to the playwright tier may help."
	case SignalCaptcha:
		return "Captcha challenge detected; the playwright tier may be able to solve it."
	case SignalAccessDenied:
		return "Site is blocking automated requests."
	case SignalRateLimited:
		return "Request was rate limited."
	case SignalEmptyContent:
		return "Response had minimal content; it may require the playwright tier."
	case SignalJavaScriptRequired:
		return "Page requires JavaScript to render content."
	default:
		return "Protection signal detected."
	}
}
