// Package tokenize splits queries into index terms.
package tokenize

import (
	"fmt"
	"html"
	"strings"

	"github.com/blevesearch/bleve/analysis"
	"github.com/blevesearch/bleve/analysis/lang/cjk"
	"github.com/blevesearch/bleve/registry"
	"github.com/microcosm-cc/bluemonday"
)

// Tokenizer is implemented by objects that split text into terms.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Whitespace splits text on unicode white space.
type Whitespace struct{}

// Tokenize implements Tokenizer.
func (Whitespace) Tokenize(text string) []string {
	return strings.Fields(text)
}

// CJK strips markup and runs bleve's cjk analyzer over the remaining text:
// latin words are lowercased and runs of CJK characters become overlapping
// bigrams.
type CJK struct {
	policy   *bluemonday.Policy
	analyzer *analysis.Analyzer
}

// NewCJK returns a CJK tokenizer. It is safe for concurrent use.
func NewCJK() (*CJK, error) {
	analyzer, err := registry.NewCache().AnalyzerNamed(cjk.AnalyzerName)
	if err != nil {
		return nil, fmt.Errorf("cjk analyzer: %w", err)
	}

	return &CJK{
		policy:   bluemonday.StrictPolicy(),
		analyzer: analyzer,
	}, nil
}

// Tokenize implements Tokenizer.
func (t *CJK) Tokenize(text string) []string {
	// The sanitizer escapes entities; undo that so "&" does not become "amp".
	clean := html.UnescapeString(t.policy.Sanitize(text))

	stream := t.analyzer.Analyze([]byte(clean))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		terms = append(terms, string(tok.Term))
	}

	return terms
}

// ByName returns the tokenizer registered under name: "cjk" or
// "whitespace".
func ByName(name string) (Tokenizer, error) {
	switch name {
	case "cjk", "":
		return NewCJK()
	case "whitespace":
		return Whitespace{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
