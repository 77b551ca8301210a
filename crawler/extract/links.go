package extract

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PrivateNetworkDetector reports whether a host resolves to a private network.
type PrivateNetworkDetector interface {
	IsNetworkPrivate(host string) (bool, error)
}

// Link is an outgoing hyperlink to another page.
type Link struct {
	URL        string
	AnchorText string
}

// Download is an outgoing hyperlink to a file of an allowed type.
type Download struct {
	URL      string
	Filename string
	Title    string
	FileType string
}

// LinkRules decides which hrefs are followed and which are downloads. A
// LinkRules value is built once per crawl and shared by all workers.
type LinkRules struct {
	baseHost      string
	exclude       *substringSet
	downloadTypes map[string]struct{}

	// NetDetector, when set, drops links to hosts on private networks.
	NetDetector PrivateNetworkDetector
}

// NewLinkRules builds the rules for a crawl. When baseURL is non-empty, links
// to unrelated hosts are dropped.
func NewLinkRules(baseURL string, excludePatterns, downloadTypes []string) (*LinkRules, error) {
	r := &LinkRules{
		exclude:       newSubstringSet(excludePatterns),
		downloadTypes: make(map[string]struct{}, len(downloadTypes)),
	}

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
		}
		r.baseHost = u.Host
	}

	for _, t := range downloadTypes {
		r.downloadTypes[strings.ToLower(strings.TrimPrefix(t, "."))] = struct{}{}
	}

	return r, nil
}

// normalize resolves href against relativeTo and applies the filters. It
// returns an empty string for dropped links.
func (r *LinkRules) normalize(relativeTo *url.URL, href string) string {
	u := resolveToAbsoluteURL(relativeTo, href)
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}

	u.Fragment = ""
	u.RawFragment = ""
	full := u.String()

	if r.exclude.containsAny(full) || len(full) < 2 {
		return ""
	}

	if r.baseHost != "" && !relatedHosts(u.Host, r.baseHost) {
		return ""
	}

	if r.NetDetector != nil && u.Hostname() != relativeTo.Hostname() {
		isPrivate, err := r.NetDetector.IsNetworkPrivate(u.Hostname())
		if err != nil || isPrivate {
			return ""
		}
	}

	return full
}

// fileType returns the lowercased path extension of u when it is in the
// download allow-list.
func (r *LinkRules) fileType(u string) (string, bool) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", false
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(parsed.Path), "."))
	if ext == "" {
		return "", false
	}
	_, ok := r.downloadTypes[ext]

	return ext, ok
}

// relatedHosts reports whether one host is a suffix of the other, so
// subdomains of the crawl base are kept.
func relatedHosts(a, b string) bool {
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

// ExtractLinks returns the de-duplicated links and downloads found in the
// <a href> elements of doc.
func (e *Extractor) ExtractLinks(doc *goquery.Document, pageURL string, rules *LinkRules) ([]Link, []Download) {
	relativeTo, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil
	}

	// A <base href> overrides the page URL for relative links.
	if baseHref, ok := doc.Find("base[href]").First().Attr("href"); ok && strings.TrimSpace(baseHref) != "" {
		if base := resolveToAbsoluteURL(relativeTo, strings.TrimSpace(baseHref)); base != nil {
			relativeTo = base
		}
	}

	var (
		links     []Link
		downloads []Download
		seen      = make(map[string]struct{})
	)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || href == "#" {
			return
		}

		full := rules.normalize(relativeTo, href)
		if full == "" {
			return
		}
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}

		anchor := nodeText(a, "")
		if anchor == "" {
			anchor = NoAnchor
		}

		if ext, ok := rules.fileType(full); ok {
			parsed, _ := url.Parse(full)
			downloads = append(downloads, Download{
				URL:      full,
				Filename: path.Base(parsed.Path),
				Title:    anchor,
				FileType: ext,
			})
			return
		}

		links = append(links, Link{URL: full, AnchorText: anchor})
	})

	return links, downloads
}

// resolveToAbsoluteURL expands target into an absolute URL. Targets starting
// with '//' inherit the scheme of relativeTo; everything else is resolved
// relative to it. Unparsable targets yield nil.
func resolveToAbsoluteURL(relativeTo *url.URL, target string) *url.URL {
	if target == "" {
		return nil
	}

	if strings.HasPrefix(target, "//") {
		target = relativeTo.Scheme + ":" + target
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return nil
	}

	return relativeTo.ResolveReference(parsed)
}
