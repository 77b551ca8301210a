package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/mycok/zhsearch/pagestore/page"
)

// Output artifact names.
const (
	PageRankFileName   = "pagerank.json"
	CrawlStatsFileName = "crawl_stats.json"

	samplePattern   = "sample_page_*.html"
	downloadPattern = "download_*.json"
)

// topDomainsLimit caps the domain distribution exported with the stats.
const topDomainsLimit = 10

// CrawlStats is the summary exported when a crawl completes.
type CrawlStats struct {
	CrawlTime      string             `json:"crawl_time"`
	TotalPages     int                `json:"total_pages"`
	TotalLinks     int                `json:"total_links"`
	TotalDownloads int                `json:"total_downloads"`
	FileTypeStats  map[string]int     `json:"file_type_stats"`
	EncodingStats  map[string]int     `json:"encoding_stats"`
	TopDomains     []page.DomainCount `json:"top_domains"`
}

type downloadFile struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	FileType string `json:"file_type"`
}

// artifacts writes the files a crawl leaves in its output directory.
type artifacts struct {
	dir string
}

func (a *artifacts) path(name string) string {
	return filepath.Join(a.dir, name)
}

// clear removes the artifacts of a previous crawl. The progress log is left
// alone; it is append-only.
func (a *artifacts) clear() error {
	var err error

	for _, name := range []string{PageRankFileName, CrawlStatsFileName} {
		if rmErr := os.Remove(a.path(name)); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierror.Append(err, rmErr)
		}
	}

	for _, pattern := range []string{samplePattern, downloadPattern} {
		matches, globErr := filepath.Glob(a.path(pattern))
		if globErr != nil {
			err = multierror.Append(err, globErr)
			continue
		}

		for _, m := range matches {
			if rmErr := os.Remove(m); rmErr != nil && !os.IsNotExist(rmErr) {
				err = multierror.Append(err, rmErr)
			}
		}
	}

	return err
}

func (a *artifacts) writeSample(n int, html string) error {
	return os.WriteFile(a.path(fmt.Sprintf("sample_page_%d.html", n)), []byte(html), 0o644)
}

func (a *artifacts) writeDownload(d *page.Download) error {
	return a.writeJSON(fmt.Sprintf("download_%d.json", d.ID), downloadFile{
		ID:       d.ID,
		URL:      d.URL,
		Filename: d.Filename,
		Title:    d.Title,
		FileType: d.FileType,
	})
}

func (a *artifacts) writePageRank(scores map[string]float64) error {
	return a.writeJSON(PageRankFileName, scores)
}

func (a *artifacts) writeStats(stats *page.Stats, at time.Time) (*CrawlStats, error) {
	out := &CrawlStats{
		CrawlTime:      at.Format("2006-01-02 15:04:05"),
		TotalPages:     stats.TotalPages,
		TotalLinks:     stats.TotalLinks,
		TotalDownloads: stats.TotalDownloads,
		FileTypeStats:  stats.FileTypes,
		EncodingStats:  stats.Encodings,
		TopDomains:     stats.TopDomains(topDomainsLimit),
	}

	return out, a.writeJSON(CrawlStatsFileName, out)
}

func (a *artifacts) writeJSON(name string, v interface{}) error {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	if err := os.WriteFile(a.path(name), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	return nil
}
