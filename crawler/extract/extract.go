// Package extract pulls the title, body and metadata of a page and the
// outgoing links and downloads it references.
package extract

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/hashicorp/go-multierror"
)

// Placeholders used when a page or anchor has no text.
const (
	NoTitle  = "无标题"
	NoAnchor = "无文本"
)

// errorMarkers flag titles of error and redirect pages.
var errorMarkers = newSubstringSet([]string{"404", "301", "302"})

// Selectors lists, per field, the CSS selectors tried in order. The first
// selector matching an element wins.
type Selectors struct {
	Title   []string
	Content []string
	Time    []string
	Source  []string

	// Remove selectors are applied before extraction and delete the
	// matched elements from the document.
	Remove []string
}

// Content is the text extracted from a page.
type Content struct {
	Title       string
	Body        string
	PublishTime string
	Source      string
}

// Acceptable reports whether the page is worth persisting: it has a real
// title and body and does not look like an error page.
func (c Content) Acceptable() bool {
	if c.Title == "" || c.Title == NoTitle || c.Body == "" {
		return false
	}

	return !errorMarkers.containsAny(c.Title)
}

// Extractor extracts page content with configurable selectors. It is safe for
// concurrent use.
type Extractor struct {
	sel Selectors
}

// NewExtractor validates every selector and returns an Extractor.
func NewExtractor(sel Selectors) (*Extractor, error) {
	var err error
	for _, group := range [][]string{sel.Title, sel.Content, sel.Time, sel.Source, sel.Remove} {
		for _, s := range group {
			if _, cErr := cascadia.Compile(s); cErr != nil {
				err = multierror.Append(err, fmt.Errorf("invalid selector %q: %w", s, cErr))
			}
		}
	}
	if err != nil {
		return nil, err
	}

	return &Extractor{sel: sel}, nil
}

// Extract removes the configured elements from doc and returns its content.
// doc is modified.
func (e *Extractor) Extract(doc *goquery.Document) Content {
	for _, s := range e.sel.Remove {
		doc.Find(s).Remove()
	}

	c := Content{Title: NoTitle}
	if t, found := firstText(doc, e.sel.Title, ""); found {
		c.Title = t
	}
	if c.Title == NoTitle {
		if t := nodeText(doc.Find("title").First(), ""); t != "" {
			c.Title = t
		}
	}

	body, _ := firstText(doc, e.sel.Content, "\n")
	c.Body = collapseSpaces(body)
	c.PublishTime, _ = firstText(doc, e.sel.Time, "")
	c.Source, _ = firstText(doc, e.sel.Source, "")

	return c
}

// firstText returns the text of the element matched by the first selector
// that matches anything. A matched element with no text still wins.
func firstText(doc *goquery.Document, selectors []string, sep string) (string, bool) {
	for _, s := range selectors {
		if found := doc.Find(s).First(); found.Length() > 0 {
			return nodeText(found, sep), true
		}
	}

	return "", false
}
