// Package page defines the records persisted by a crawl and the store
// contract used to persist them.
package page

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"time"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("not found")

// Page is a fetched and extracted HTML page.
type Page struct {
	URL         string
	Title       string
	Content     string
	HTML        string
	ContentHash string
	Encoding    string
	PublishTime string
	Source      string
	CrawledAt   time.Time
	PageRank    float64
}

// Link is a hyperlink between two pages.
type Link struct {
	FromURL    string
	ToURL      string
	AnchorText string
	CrawledAt  time.Time
}

// Download is a reference to a downloadable file discovered on a page.
type Download struct {
	ID        int64
	URL       string
	Filename  string
	Title     string
	FileType  string
	CrawledAt time.Time
}

// Stats summarises the contents of a store.
type Stats struct {
	TotalPages     int
	TotalLinks     int
	TotalDownloads int

	// FileTypes counts downloads per file type.
	FileTypes map[string]int

	// Encodings counts pages per detected encoding.
	Encodings map[string]int

	// Domains counts link targets per host.
	Domains map[string]int
}

// DomainCount pairs a host with the number of links pointing at it.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// TopDomains returns the n most linked-to hosts, most frequent first. Hosts
// with the same count are ordered by name.
func (s *Stats) TopDomains(n int) []DomainCount {
	list := make([]DomainCount, 0, len(s.Domains))
	for d, c := range s.Domains {
		list = append(list, DomainCount{Domain: d, Count: c})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Domain < list[j].Domain
	})

	if n >= 0 && len(list) > n {
		list = list[:n]
	}

	return list
}

// HashHTML returns the hex md5 digest stored as a page's ContentHash.
func HashHTML(html string) string {
	sum := md5.Sum([]byte(html))
	return hex.EncodeToString(sum[:])
}

// Host returns the host part of rawURL or an empty string when it cannot be
// parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Host
}
