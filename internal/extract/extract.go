// Package extract converts raw fetched HTML into the canonical
// core.Content shape, dispatching to one of several extraction
// strategies by name, mirroring the tiered fetcher's need for both a
// structure-preserving conversion (markdown) and a main-content-only
// conversion (readability, trafilatura).
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/markusmobius/go-trafilatura"
	"golang.org/x/net/html"

	"github.com/jmylchreest/wayfarer/internal/core"
)

// Strategy names an extraction method.
type Strategy string

const (
	StrategyNoop        Strategy = "noop"
	StrategyMarkdown    Strategy = "markdown"
	StrategyReadability Strategy = "readability"
	StrategyTrafilatura Strategy = "trafilatura"
)

// Options tunes an extraction call.
type Options struct {
	// BaseURL resolves relative links/images during readability extraction.
	BaseURL string
	// IncludeTables keeps tables in trafilatura's main-content extraction;
	// the other strategies ignore it.
	IncludeTables bool
}

// Extractor converts raw HTML into core.Content.
type Extractor interface {
	Extract(rawHTML string, opts Options) (core.Content, error)
	Name() Strategy
}

// Factory builds an Extractor by strategy name.
type Factory struct{}

// NewFactory builds an extraction Factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create returns the Extractor for strategy, or an error if unknown.
func (f *Factory) Create(strategy Strategy) (Extractor, error) {
	switch strategy {
	case StrategyNoop, "":
		return noopExtractor{}, nil
	case StrategyMarkdown:
		return markdownExtractor{}, nil
	case StrategyReadability:
		return readabilityExtractor{}, nil
	case StrategyTrafilatura:
		return trafilaturaExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy: %s", strategy)
	}
}

// ValidStrategies lists every strategy the factory can build.
func ValidStrategies() []Strategy {
	return []Strategy{StrategyNoop, StrategyMarkdown, StrategyReadability, StrategyTrafilatura}
}

type noopExtractor struct{}

func (noopExtractor) Name() Strategy { return StrategyNoop }

func (noopExtractor) Extract(rawHTML string, _ Options) (core.Content, error) {
	return core.Content{HTML: rawHTML}, nil
}

type markdownExtractor struct{}

func (markdownExtractor) Name() Strategy { return StrategyMarkdown }

func (markdownExtractor) Extract(rawHTML string, _ Options) (core.Content, error) {
	markdown, err := md.ConvertString(rawHTML)
	if err != nil {
		return core.Content{}, fmt.Errorf("convert html to markdown: %w", err)
	}
	text, err := htmlToText(rawHTML)
	if err != nil {
		return core.Content{}, err
	}
	return core.Content{Markdown: markdown, Text: text, HTML: rawHTML}, nil
}

type readabilityExtractor struct{}

func (readabilityExtractor) Name() Strategy { return StrategyReadability }

func (readabilityExtractor) Extract(rawHTML string, opts Options) (core.Content, error) {
	var pageURL *url.URL
	if opts.BaseURL != "" {
		parsed, err := url.Parse(opts.BaseURL)
		if err == nil {
			pageURL = parsed
		}
	}

	article, err := readability.New().Parse(strings.NewReader(rawHTML), pageURL)
	if err != nil {
		return core.Content{}, fmt.Errorf("readability parse: %w", err)
	}

	markdown, err := md.ConvertString(article.Content)
	if err != nil {
		markdown = article.TextContent
	}

	return core.Content{
		Markdown: markdown,
		Text:     article.TextContent,
		HTML:     article.Content,
	}, nil
}

type trafilaturaExtractor struct{}

func (trafilaturaExtractor) Name() Strategy { return StrategyTrafilatura }

func (trafilaturaExtractor) Extract(rawHTML string, opts Options) (core.Content, error) {
	var pageURL *url.URL
	if opts.BaseURL != "" {
		parsed, err := url.Parse(opts.BaseURL)
		if err == nil {
			pageURL = parsed
		}
	}

	extractOpts := trafilatura.Options{
		IncludeTables: opts.IncludeTables,
		OriginalURL:   pageURL,
	}

	result, err := trafilatura.Extract(strings.NewReader(rawHTML), extractOpts)
	if err != nil {
		return core.Content{}, fmt.Errorf("trafilatura extract: %w", err)
	}
	if result == nil || result.ContentNode == nil {
		return core.Content{}, fmt.Errorf("trafilatura: no main content found")
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, result.ContentNode); err != nil {
		return core.Content{}, fmt.Errorf("render extracted content: %w", err)
	}
	extractedHTML := buf.String()

	text, err := htmlToText(extractedHTML)
	if err != nil {
		return core.Content{}, err
	}
	markdown, err := md.ConvertString(extractedHTML)
	if err != nil {
		markdown = text
	}

	return core.Content{Markdown: markdown, Text: text, HTML: extractedHTML}, nil
}

// htmlToText strips tags via goquery, used as the plain-text counterpart
// to a markdown conversion.
func htmlToText(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return strings.TrimSpace(doc.Text()), nil
}
