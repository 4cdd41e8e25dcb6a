package extract

import (
	"strings"
	"testing"
)

const sampleHTML = `<html><body><h1>Title</h1><p>Hello <b>world</b>.</p></body></html>`

func TestFactory_CreateKnownStrategies(t *testing.T) {
	f := NewFactory()
	for _, s := range ValidStrategies() {
		if _, err := f.Create(s); err != nil {
			t.Errorf("Create(%s) error = %v", s, err)
		}
	}
}

func TestFactory_CreateUnknownStrategy(t *testing.T) {
	f := NewFactory()
	if _, err := f.Create(Strategy("bogus")); err == nil {
		t.Error("Create(bogus) should return an error")
	}
}

func TestFactory_CreateDefaultsToNoopForEmptyStrategy(t *testing.T) {
	f := NewFactory()
	e, err := f.Create("")
	if err != nil {
		t.Fatalf("Create(\"\") error = %v", err)
	}
	if e.Name() != StrategyNoop {
		t.Errorf("Name() = %v, want %v", e.Name(), StrategyNoop)
	}
}

func TestNoopExtractor_PassesThroughHTML(t *testing.T) {
	e := noopExtractor{}
	content, err := e.Extract(sampleHTML, Options{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if content.HTML != sampleHTML {
		t.Error("noop extractor should pass HTML through unchanged")
	}
}

func TestMarkdownExtractor_ProducesMarkdownAndText(t *testing.T) {
	e := markdownExtractor{}
	content, err := e.Extract(sampleHTML, Options{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(content.Text, "Hello") {
		t.Errorf("Text = %q, want it to contain %q", content.Text, "Hello")
	}
	if content.Markdown == "" {
		t.Error("Markdown should not be empty")
	}
}

func TestHTMLToText_StripsTags(t *testing.T) {
	text, err := htmlToText(sampleHTML)
	if err != nil {
		t.Fatalf("htmlToText() error = %v", err)
	}
	if strings.Contains(text, "<") {
		t.Errorf("text = %q, should not contain HTML tags", text)
	}
}
