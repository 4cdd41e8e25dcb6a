package patterns

import "github.com/jmylchreest/wayfarer/internal/core"

// TemplateInferrer derives a candidate Pattern from an observed success
// that did not already match a registered pattern. Implementations are
// dispatched by TemplateType tag so the registry's hot path stays
// branchless rather than type-switching on concrete types.
type TemplateInferrer interface {
	Infer(event ExtractionEvent) (*Pattern, bool)
}

// VariableExtractor populates template variables from a matched URL using
// a pattern's Extractors list.
type VariableExtractor interface {
	Extract(p *Pattern, rawURL string, urlMatch []string) (map[string]string, error)
}

// ContentMapper maps a parsed endpoint response onto the canonical content
// shape using a pattern's ContentMapping.
type ContentMapper interface {
	Map(p *Pattern, raw []byte) (core.Content, error)
}

// Capability bundles the three pluggable behaviors for one TemplateType.
// Any field left nil falls back to the registry's generic default.
type Capability struct {
	Inferrer  TemplateInferrer
	Extractor VariableExtractor
	Mapper    ContentMapper
}
