// Package sqlite provides a page store backed by an SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/mycok/zhsearch/pagestore/page"
)

// dsnParams enables WAL so several sessions can write concurrently.
const dsnParams = "?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		html_content TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		encoding TEXT NOT NULL DEFAULT '',
		publish_time TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		crawled_at TIMESTAMP,
		pagerank REAL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_url TEXT NOT NULL,
		to_url TEXT NOT NULL,
		anchor_text TEXT NOT NULL DEFAULT '',
		crawled_at TIMESTAMP,
		UNIQUE(from_url, to_url)
	)`,
	`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		file_type TEXT NOT NULL DEFAULT '',
		crawled_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_from ON links(from_url)`,
	`CREATE INDEX IF NOT EXISTS idx_links_to ON links(to_url)`,
}

var (
	savePageQuery = `
		INSERT OR REPLACE INTO pages
		(url, title, content, html_content, content_hash, encoding, publish_time, source, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	saveLinkQuery = `
		INSERT OR IGNORE INTO links (from_url, to_url, anchor_text, crawled_at)
		VALUES (?, ?, ?, ?)`
	saveDownloadQuery = `
		INSERT OR IGNORE INTO downloads (url, filename, title, file_type, crawled_at)
		VALUES (?, ?, ?, ?, ?)`
	pagesQuery = `
		SELECT url, title, content, html_content, content_hash, encoding,
			publish_time, source, crawled_at, pagerank
		FROM pages ORDER BY url`
	linksQuery = `
		SELECT from_url, to_url, anchor_text, crawled_at
		FROM links ORDER BY from_url, to_url`
	findDownloadIDQuery = "SELECT id FROM downloads WHERE url = ?"
	updatePageRankQuery = "UPDATE pages SET pagerank = ? WHERE url = ?"
	encodingStatsQuery  = `
		SELECT encoding AS k, COUNT(*) AS n FROM pages
		WHERE encoding != '' GROUP BY encoding`
	fileTypeStatsQuery = "SELECT file_type AS k, COUNT(*) AS n FROM downloads GROUP BY file_type"
	linkTargetsQuery   = "SELECT to_url FROM links"
)

var (
	_ page.Store   = (*Store)(nil)
	_ page.Session = (*session)(nil)
)

// Store persists crawl records in SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore opens, and creates if needed, the database at path.
func NewStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stmt := range schema {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close implements page.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session implements page.Store. Every session holds its own connection.
func (s *Store) Session(ctx context.Context) (page.Session, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite session: %w", err)
	}

	return &session{conn: conn}, nil
}

// Stats implements page.Store.
func (s *Store) Stats(ctx context.Context) (*page.Stats, error) {
	st := &page.Stats{
		FileTypes: make(map[string]int),
		Encodings: make(map[string]int),
		Domains:   make(map[string]int),
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"pages", &st.TotalPages},
		{"links", &st.TotalLinks},
		{"downloads", &st.TotalDownloads},
	}
	for _, cnt := range counts {
		if err := s.db.GetContext(ctx, cnt.dst, "SELECT COUNT(*) FROM "+cnt.table); err != nil {
			return nil, fmt.Errorf("count %s: %w", cnt.table, err)
		}
	}

	if err := s.groupCounts(ctx, encodingStatsQuery, st.Encodings); err != nil {
		return nil, fmt.Errorf("encoding stats: %w", err)
	}
	if err := s.groupCounts(ctx, fileTypeStatsQuery, st.FileTypes); err != nil {
		return nil, fmt.Errorf("file type stats: %w", err)
	}

	var targets []string
	if err := s.db.SelectContext(ctx, &targets, linkTargetsQuery); err != nil {
		return nil, fmt.Errorf("link targets: %w", err)
	}
	for _, to := range targets {
		if host := page.Host(to); host != "" {
			st.Domains[host]++
		}
	}

	return st, nil
}

type groupCount struct {
	Key   string `db:"k"`
	Count int    `db:"n"`
}

func (s *Store) groupCounts(ctx context.Context, query string, dst map[string]int) error {
	var rows []groupCount
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return err
	}
	for _, r := range rows {
		dst[r.Key] = r.Count
	}

	return nil
}

// Pages implements page.Store.
func (s *Store) Pages(ctx context.Context) (page.Iterator, error) {
	rows, err := s.db.QueryxContext(ctx, pagesQuery)
	if err != nil {
		return nil, fmt.Errorf("pages: %w", err)
	}

	return &pageIterator{rows: rows}, nil
}

// Links implements page.Store.
func (s *Store) Links(ctx context.Context) (page.LinkIterator, error) {
	rows, err := s.db.QueryxContext(ctx, linksQuery)
	if err != nil {
		return nil, fmt.Errorf("links: %w", err)
	}

	return &linkIterator{rows: rows}, nil
}

// UpdatePageRank implements page.Store.
func (s *Store) UpdatePageRank(ctx context.Context, url string, score float64) error {
	if _, err := s.db.ExecContext(ctx, updatePageRankQuery, score, url); err != nil {
		return fmt.Errorf("update pagerank: %w", err)
	}

	return nil
}

type session struct {
	conn *sqlx.Conn
}

func (sess *session) SavePage(ctx context.Context, p *page.Page) error {
	p.ContentHash = page.HashHTML(p.HTML)
	if p.CrawledAt.IsZero() {
		p.CrawledAt = time.Now().UTC()
	}

	_, err := sess.conn.ExecContext(ctx, savePageQuery,
		p.URL, p.Title, p.Content, p.HTML, p.ContentHash, p.Encoding,
		p.PublishTime, p.Source, p.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}

	return nil
}

func (sess *session) SaveLink(ctx context.Context, l *page.Link) error {
	if l.CrawledAt.IsZero() {
		l.CrawledAt = time.Now().UTC()
	}

	_, err := sess.conn.ExecContext(ctx, saveLinkQuery, l.FromURL, l.ToURL, l.AnchorText, l.CrawledAt)
	if err != nil {
		return fmt.Errorf("save link: %w", err)
	}

	return nil
}

func (sess *session) SaveDownload(ctx context.Context, d *page.Download) (int64, bool, error) {
	if d.CrawledAt.IsZero() {
		d.CrawledAt = time.Now().UTC()
	}

	res, err := sess.conn.ExecContext(ctx, saveDownloadQuery,
		d.URL, d.Filename, d.Title, d.FileType, d.CrawledAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("save download: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		if d.ID, err = res.LastInsertId(); err != nil {
			return 0, false, fmt.Errorf("save download: %w", err)
		}

		return d.ID, true, nil
	}

	if err = sess.conn.GetContext(ctx, &d.ID, findDownloadIDQuery, d.URL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = page.ErrNotFound
		}
		return 0, false, fmt.Errorf("save download: %w", err)
	}

	return d.ID, false, nil
}

func (sess *session) Close() error {
	return sess.conn.Close()
}

type pageRow struct {
	URL         string       `db:"url"`
	Title       string       `db:"title"`
	Content     string       `db:"content"`
	HTML        string       `db:"html_content"`
	ContentHash string       `db:"content_hash"`
	Encoding    string       `db:"encoding"`
	PublishTime string       `db:"publish_time"`
	Source      string       `db:"source"`
	CrawledAt   sql.NullTime `db:"crawled_at"`
	PageRank    float64      `db:"pagerank"`
}

type pageIterator struct {
	rows    *sqlx.Rows
	lastErr error
	page    *page.Page
}

func (i *pageIterator) Next() bool {
	if i.lastErr != nil || !i.rows.Next() {
		return false
	}

	var r pageRow
	if i.lastErr = i.rows.StructScan(&r); i.lastErr != nil {
		return false
	}

	i.page = &page.Page{
		URL:         r.URL,
		Title:       r.Title,
		Content:     r.Content,
		HTML:        r.HTML,
		ContentHash: r.ContentHash,
		Encoding:    r.Encoding,
		PublishTime: r.PublishTime,
		Source:      r.Source,
		CrawledAt:   r.CrawledAt.Time.UTC(),
		PageRank:    r.PageRank,
	}

	return true
}

func (i *pageIterator) Page() *page.Page { return i.page }

func (i *pageIterator) Error() error {
	if i.lastErr != nil {
		return i.lastErr
	}

	return i.rows.Err()
}

func (i *pageIterator) Close() error {
	if err := i.rows.Close(); err != nil {
		return fmt.Errorf("page iterator: %w", err)
	}

	return nil
}

type linkRow struct {
	FromURL    string       `db:"from_url"`
	ToURL      string       `db:"to_url"`
	AnchorText string       `db:"anchor_text"`
	CrawledAt  sql.NullTime `db:"crawled_at"`
}

type linkIterator struct {
	rows    *sqlx.Rows
	lastErr error
	link    *page.Link
}

func (i *linkIterator) Next() bool {
	if i.lastErr != nil || !i.rows.Next() {
		return false
	}

	var r linkRow
	if i.lastErr = i.rows.StructScan(&r); i.lastErr != nil {
		return false
	}

	i.link = &page.Link{
		FromURL:    r.FromURL,
		ToURL:      r.ToURL,
		AnchorText: r.AnchorText,
		CrawledAt:  r.CrawledAt.Time.UTC(),
	}

	return true
}

func (i *linkIterator) Link() *page.Link { return i.link }

func (i *linkIterator) Error() error {
	if i.lastErr != nil {
		return i.lastErr
	}

	return i.rows.Err()
}

func (i *linkIterator) Close() error {
	if err := i.rows.Close(); err != nil {
		return fmt.Errorf("link iterator: %w", err)
	}

	return nil
}
