package fetcher

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jmylchreest/wayfarer/internal/core"
	"github.com/jmylchreest/wayfarer/internal/extract"
)

// LightweightResult is what the lightweight tier returns: the raw fetch
// plus a static parse of the content.
type LightweightResult struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Content    core.Content
	Links      []core.Link
}

// LightweightTier performs a plain HTTP fetch and a static HTML parse
// (outbound links plus one extract strategy's content) without executing
// JavaScript. Tables and page metadata are not extracted.
type LightweightTier struct {
	userAgent string
	timeout   time.Duration
	extractor extract.Strategy
	factory   *extract.Factory
}

// LightweightConfig tunes the lightweight tier.
type LightweightConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Extractor chooses the extract package's strategy used to produce
	// markdown/text from the fetched HTML; defaults to "markdown".
	Extractor extract.Strategy
}

// NewLightweightTier builds a colly-backed lightweight tier.
func NewLightweightTier(cfg LightweightConfig) *LightweightTier {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; wayfarer/1.0; +https://github.com/jmylchreest/wayfarer)"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Extractor == "" {
		cfg.Extractor = extract.StrategyMarkdown
	}
	return &LightweightTier{
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		extractor: cfg.Extractor,
		factory:   extract.NewFactory(),
	}
}

// Fetch performs one HTTP GET against rawURL via colly, capturing the
// response, outbound links, and a static content extraction.
func (t *LightweightTier) Fetch(rawURL string, opts core.FetchOptions) (LightweightResult, error) {
	var result LightweightResult
	var fetchErr error

	c := colly.NewCollector(
		colly.UserAgent(t.userAgent),
		colly.AllowURLRevisit(),
	)

	timeout := t.timeout
	if opts.MaxLatencyMs > 0 {
		if d := time.Duration(opts.MaxLatencyMs) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	c.SetRequestTimeout(timeout)

	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.Headers = http.Header(r.Headers.Clone())
		result.Body = append([]byte(nil), r.Body...)
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if href == "" || href[0] == '#' {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		result.Links = append(result.Links, core.Link{
			URL:  abs,
			Text: e.Text,
			Rel:  e.Attr("rel"),
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		result.StatusCode = r.StatusCode
	})

	if err := c.Visit(rawURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return result, fmt.Errorf("lightweight fetch %s: %w", rawURL, fetchErr)
	}

	extractor, err := t.factory.Create(t.extractor)
	if err != nil {
		return result, err
	}
	content, err := extractor.Extract(string(result.Body), extract.Options{BaseURL: rawURL})
	if err != nil {
		return result, fmt.Errorf("extract content: %w", err)
	}
	result.Content = content
	return result, nil
}
