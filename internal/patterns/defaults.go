package patterns

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/wayfarer/internal/core"
)

// genericExtractor implements VariableExtractor against a pattern's
// Extractors list, honoring each ExtractorSource.
type genericExtractor struct{}

func (genericExtractor) Extract(p *Pattern, rawURL string, urlMatch []string) (map[string]string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(p.Extractors))
	for _, ex := range p.Extractors {
		var source string
		switch ex.Source {
		case SourcePath:
			source = parsed.Path
		case SourceQuery:
			source = parsed.RawQuery
		case SourceHostname:
			source = parsed.Hostname()
		case SourceSubdomain:
			host := parsed.Hostname()
			if idx := strings.Index(host, "."); idx > 0 {
				source = host[:idx]
			}
		default:
			source = rawURL
		}

		re, err := regexp.Compile(ex.Regex)
		if err != nil {
			return nil, fmt.Errorf("extractor %s: %w", ex.Name, err)
		}
		m := re.FindStringSubmatch(source)
		group := ex.Group
		if group >= len(m) {
			continue
		}
		val := ""
		if group == 0 {
			if len(m) > 0 {
				val = m[0]
			}
		} else if len(m) > group {
			val = m[group]
		}
		vars[ex.Name] = applyTransform(val, ex.Transform)
	}
	return vars, nil
}

func applyTransform(val, transform string) string {
	switch transform {
	case "lowercase":
		return strings.ToLower(val)
	case "uppercase":
		return strings.ToUpper(val)
	case "trim":
		return strings.TrimSpace(val)
	default:
		return val
	}
}

// genericMapper implements ContentMapper for json and html response
// formats using a pattern's ContentMapping: for json, dotted field paths
// into a decoded map; for html, CSS selectors via goquery.
type genericMapper struct{}

func (genericMapper) Map(p *Pattern, raw []byte) (core.Content, error) {
	switch p.ResponseFormat {
	case FormatJSON:
		return mapJSON(p.ContentMapping, raw)
	case FormatHTML:
		return mapHTML(p.ContentMapping, raw)
	default:
		return core.Content{Text: string(raw)}, nil
	}
}

func mapJSON(mapping ContentMapping, raw []byte) (core.Content, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return core.Content{}, fmt.Errorf("decode json response: %w", err)
	}

	title := jsonPath(doc, mapping.Title)
	desc := jsonPath(doc, mapping.Description)
	body := jsonPath(doc, mapping.Body)

	text := strings.TrimSpace(strings.Join([]string{title, desc, body}, "\n\n"))
	return core.Content{
		Text:     text,
		Markdown: text,
	}, nil
}

func jsonPath(doc any, path string) string {
	if path == "" {
		return ""
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[part]
		if !ok {
			return ""
		}
	}
	switch v := cur.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func mapHTML(mapping ContentMapping, raw []byte) (core.Content, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return core.Content{}, fmt.Errorf("parse html response: %w", err)
	}

	selectText := func(selector string) string {
		if selector == "" {
			return ""
		}
		return strings.TrimSpace(doc.Find(selector).First().Text())
	}

	title := selectText(mapping.Title)
	desc := selectText(mapping.Description)
	body := selectText(mapping.Body)

	text := strings.TrimSpace(strings.Join([]string{title, desc, body}, "\n\n"))
	return core.Content{Text: text, Markdown: text, HTML: string(raw)}, nil
}

// genericInferrer builds a candidate Pattern from an ExtractionEvent using
// a simple, explainable heuristic: the first observed API whose URL ends
// in ".json" becomes a json-suffix pattern for the event's domain (the
// API's own host is not compared with it); otherwise no inference is made
// and Learn reports false.
type genericInferrer struct{}

func (genericInferrer) Infer(event ExtractionEvent) (*Pattern, bool) {
	for _, api := range event.ObservedAPIs {
		if strings.HasSuffix(api.URL, ".json") {
			now := time.Now()
			return &Pattern{
				TemplateType:     TemplateJSONSuffix,
				URLPatterns:      []string{regexp.QuoteMeta(event.Domain)},
				EndpointTemplate: api.URL,
				Method:           api.Method,
				ResponseFormat:   FormatJSON,
				Validation:       Validation{MinContentLength: 1},
				Metrics:          newMetrics(0.5),
				CreatedAt:        now,
				UpdatedAt:        now,
			}, true
		}
	}
	return nil, false
}
