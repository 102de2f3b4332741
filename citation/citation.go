// Package citation derives source citations from tool results. The extractor
// is a pure registry keyed by tool name; tools that search or retrieve
// documents register a function that parses their result payload into
// citations, and everything else produces none.
package citation

import (
	"encoding/json"

	"github.com/hupe1980/agentpipe/core"
)

// ExtractFunc parses one tool result into citations. Implementations must be
// pure and tolerate malformed input by returning nil.
type ExtractFunc func(result string) []core.Citation

// Extractor implements core.CitationExtractor over a registry of per-tool
// extraction functions.
type Extractor struct {
	extractors map[string]ExtractFunc
}

// NewExtractor creates an extractor with built-in support for the web_search
// and retrieval tools.
func NewExtractor() *Extractor {
	e := &Extractor{extractors: make(map[string]ExtractFunc)}
	e.Register("web_search", jsonResults("web_search"))
	e.Register("retrieval", jsonResults("retrieval"))
	return e
}

// Register adds or replaces the extraction function for a tool name.
func (e *Extractor) Register(toolName string, fn ExtractFunc) {
	e.extractors[toolName] = fn
}

// ProducesCitations reports whether results of the named tool can yield citations.
func (e *Extractor) ProducesCitations(toolName string) bool {
	_, ok := e.extractors[toolName]
	return ok
}

// Extract parses a tool result into citations. Unknown tools and malformed
// results yield nil.
func (e *Extractor) Extract(toolName, result string) []core.Citation {
	fn, ok := e.extractors[toolName]
	if !ok {
		return nil
	}
	return fn(result)
}

type resultEntry struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// jsonResults parses results shaped either as a bare JSON array of entries or
// as an object with a "results" array. Entries without a URL are skipped.
func jsonResults(source string) ExtractFunc {
	return func(result string) []core.Citation {
		var entries []resultEntry
		if err := json.Unmarshal([]byte(result), &entries); err != nil {
			var wrapper struct {
				Results []resultEntry `json:"results"`
			}
			if err := json.Unmarshal([]byte(result), &wrapper); err != nil {
				return nil
			}
			entries = wrapper.Results
		}

		var citations []core.Citation
		for _, entry := range entries {
			if entry.URL == "" {
				continue
			}
			citations = append(citations, core.Citation{
				Title:   entry.Title,
				URL:     entry.URL,
				Snippet: entry.Snippet,
				Source:  source,
			})
		}
		return citations
	}
}
