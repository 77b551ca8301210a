package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var repeatedSpaceRegex = regexp.MustCompile(`\s+`)

// skipText lists elements whose text never belongs to the page content.
var skipText = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
}

// nodeText gathers the trimmed, non-empty text nodes below the first node of
// sel and joins them with sep.
func nodeText(sel *goquery.Selection, sep string) string {
	if sel.Length() == 0 {
		return ""
	}

	var parts []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if _, skip := skipText[n.Data]; skip {
				return
			}
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(sel.Get(0))

	return strings.Join(parts, sep)
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(repeatedSpaceRegex.ReplaceAllString(s, " "))
}
