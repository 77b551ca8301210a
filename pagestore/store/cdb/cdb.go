// Package cdb provides a page store backed by PostgreSQL or CockroachDB.
package cdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/mycok/zhsearch/pagestore/page"
)

var (
	savePageQuery = `
		INSERT INTO pages
		(url, title, content, html_content, content_hash, encoding, publish_time, source, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (url) DO UPDATE SET
			title=$2, content=$3, html_content=$4, content_hash=$5, encoding=$6,
			publish_time=$7, source=$8, crawled_at=$9, pagerank=0
		`
	saveLinkQuery = `
		INSERT INTO links (from_url, to_url, anchor_text, crawled_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_url, to_url) DO NOTHING
		`
	saveDownloadQuery = `
		INSERT INTO downloads (url, filename, title, file_type, crawled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url) DO NOTHING
		RETURNING id
		`
	pagesQuery = `
		SELECT url, title, content, html_content, content_hash, encoding,
			publish_time, source, crawled_at, pagerank
		FROM pages ORDER BY url
		`

	findDownloadIDQuery = "SELECT id FROM downloads WHERE url=$1"
	updatePageRankQuery = "UPDATE pages SET pagerank=$1 WHERE url=$2"
	countPagesQuery     = "SELECT COUNT(*) FROM pages"
	countLinksQuery     = "SELECT COUNT(*) FROM links"
	countDownloadsQuery = "SELECT COUNT(*) FROM downloads"
	encodingStatsQuery  = "SELECT encoding, COUNT(*) FROM pages WHERE encoding <> '' GROUP BY encoding"
	fileTypeStatsQuery  = "SELECT file_type, COUNT(*) FROM downloads GROUP BY file_type"
	linkTargetsQuery    = "SELECT to_url FROM links"
	linksQuery          = "SELECT from_url, to_url, anchor_text, crawled_at FROM links ORDER BY from_url, to_url"
)

var (
	_ page.Store   = (*CockroachDBStore)(nil)
	_ page.Session = (*session)(nil)
)

// CockroachDBStore persists crawl records in a postgres compatible database.
// The schema is expected to exist; see Schema.
type CockroachDBStore struct {
	db *sql.DB
}

// Schema holds the statements creating the tables used by the store.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS pages (
		id SERIAL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		html_content TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		encoding TEXT NOT NULL DEFAULT '',
		publish_time TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		crawled_at TIMESTAMP,
		pagerank DOUBLE PRECISION DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id SERIAL PRIMARY KEY,
		from_url TEXT NOT NULL,
		to_url TEXT NOT NULL,
		anchor_text TEXT NOT NULL DEFAULT '',
		crawled_at TIMESTAMP,
		UNIQUE (from_url, to_url)
	)`,
	`CREATE TABLE IF NOT EXISTS downloads (
		id SERIAL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		file_type TEXT NOT NULL DEFAULT '',
		crawled_at TIMESTAMP
	)`,
}

// NewCockroachDBStore connects to the database at dsn and applies Schema.
func NewCockroachDBStore(dsn string) (*CockroachDBStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	for _, stmt := range Schema {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &CockroachDBStore{db: db}, nil
}

// NewFromDB wraps an open database handle without touching the schema.
func NewFromDB(db *sql.DB) *CockroachDBStore {
	return &CockroachDBStore{db: db}
}

// Close terminates the database connection.
func (s *CockroachDBStore) Close() error {
	return s.db.Close()
}

// Session returns a session holding a dedicated connection from the pool.
func (s *CockroachDBStore) Session(ctx context.Context) (page.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &session{conn: conn}, nil
}

// Stats aggregates the store contents.
func (s *CockroachDBStore) Stats(ctx context.Context) (*page.Stats, error) {
	st := new(page.Stats)

	counts := []struct {
		query string
		dst   *int
	}{
		{countPagesQuery, &st.TotalPages},
		{countLinksQuery, &st.TotalLinks},
		{countDownloadsQuery, &st.TotalDownloads},
	}
	for _, cnt := range counts {
		if err := s.db.QueryRowContext(ctx, cnt.query).Scan(cnt.dst); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}

	var err error
	if st.Encodings, err = s.groupCounts(ctx, encodingStatsQuery); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if st.FileTypes, err = s.groupCounts(ctx, fileTypeStatsQuery); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, linkTargetsQuery)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	st.Domains = make(map[string]int)
	for rows.Next() {
		var to string
		if err = rows.Scan(&to); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		if host := page.Host(to); host != "" {
			st.Domains[host]++
		}
	}

	return st, rows.Err()
}

func (s *CockroachDBStore) groupCounts(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err = rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}

	return out, rows.Err()
}

// Pages returns an iterator over all stored pages ordered by URL.
func (s *CockroachDBStore) Pages(ctx context.Context) (page.Iterator, error) {
	rows, err := s.db.QueryContext(ctx, pagesQuery)
	if err != nil {
		return nil, fmt.Errorf("pages: %w", err)
	}

	return &pageIterator{rows: rows}, nil
}

// Links returns an iterator over all stored links ordered by source and
// target URL.
func (s *CockroachDBStore) Links(ctx context.Context) (page.LinkIterator, error) {
	rows, err := s.db.QueryContext(ctx, linksQuery)
	if err != nil {
		return nil, fmt.Errorf("links: %w", err)
	}

	return &linkIterator{rows: rows}, nil
}

// UpdatePageRank sets the PageRank score of the page at url.
func (s *CockroachDBStore) UpdatePageRank(ctx context.Context, url string, score float64) error {
	if _, err := s.db.ExecContext(ctx, updatePageRankQuery, score, url); err != nil {
		return fmt.Errorf("update pagerank: %w", err)
	}

	return nil
}

type session struct {
	conn *sql.Conn
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

	if _, err := sess.conn.ExecContext(ctx, saveLinkQuery, l.FromURL, l.ToURL, l.AnchorText, l.CrawledAt); err != nil {
		return fmt.Errorf("save link: %w", err)
	}

	return nil
}

func (sess *session) SaveDownload(ctx context.Context, d *page.Download) (int64, bool, error) {
	if d.CrawledAt.IsZero() {
		d.CrawledAt = time.Now().UTC()
	}

	err := sess.conn.QueryRowContext(ctx, saveDownloadQuery,
		d.URL, d.Filename, d.Title, d.FileType, d.CrawledAt,
	).Scan(&d.ID)
	if err == nil {
		return d.ID, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("save download: %w", err)
	}

	// ON CONFLICT DO NOTHING returns no row for an existing url.
	if err = sess.conn.QueryRowContext(ctx, findDownloadIDQuery, d.URL).Scan(&d.ID); err != nil {
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

type pageIterator struct {
	rows    *sql.Rows
	lastErr error
	page    *page.Page
}

func (i *pageIterator) Next() bool {
	if i.lastErr != nil || !i.rows.Next() {
		return false
	}

	var (
		p         = new(page.Page)
		crawledAt sql.NullTime
	)
	i.lastErr = i.rows.Scan(
		&p.URL, &p.Title, &p.Content, &p.HTML, &p.ContentHash, &p.Encoding,
		&p.PublishTime, &p.Source, &crawledAt, &p.PageRank,
	)
	if i.lastErr != nil {
		return false
	}

	p.CrawledAt = crawledAt.Time.UTC()
	i.page = p

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

type linkIterator struct {
	rows    *sql.Rows
	lastErr error
	link    *page.Link
}

func (i *linkIterator) Next() bool {
	if i.lastErr != nil || !i.rows.Next() {
		return false
	}

	var (
		l         = new(page.Link)
		crawledAt sql.NullTime
	)
	if i.lastErr = i.rows.Scan(&l.FromURL, &l.ToURL, &l.AnchorText, &crawledAt); i.lastErr != nil {
		return false
	}

	l.CrawledAt = crawledAt.Time.UTC()
	i.link = l

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
