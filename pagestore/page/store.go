package page

import "context"

// Store is implemented by page store backends.
type Store interface {
	// Session returns a dedicated connection. Sessions are not safe for
	// concurrent use; each worker owns one.
	Session(ctx context.Context) (Session, error)

	// Stats aggregates the store contents.
	Stats(ctx context.Context) (*Stats, error)

	// Pages returns an iterator over every stored page ordered by URL.
	Pages(ctx context.Context) (Iterator, error)

	// Links returns an iterator over every stored link ordered by source
	// and then target URL.
	Links(ctx context.Context) (LinkIterator, error)

	// UpdatePageRank sets the PageRank score of the page at url.
	UpdatePageRank(ctx context.Context, url string, score float64) error

	// Close releases the store.
	Close() error
}

// Session persists crawl records.
type Session interface {
	// SavePage inserts or replaces the page with the same URL. ContentHash is
	// recomputed from the page HTML.
	SavePage(ctx context.Context, p *Page) error

	// SaveLink inserts a link. A link with the same endpoints is ignored.
	SaveLink(ctx context.Context, l *Link) error

	// SaveDownload inserts a download reference and returns its id. When a
	// download with the same URL exists, its id is returned with isNew set
	// to false.
	SaveDownload(ctx context.Context, d *Download) (id int64, isNew bool, err error)

	// Close releases the session.
	Close() error
}

// Iterator iterates stored pages.
type Iterator interface {
	// Next advances the iterator; it returns false when exhausted.
	Next() bool

	// Page returns the current page.
	Page() *Page

	// Error returns the last error encountered by the iterator.
	Error() error

	// Close releases the iterator.
	Close() error
}

// LinkIterator iterates stored links.
type LinkIterator interface {
	// Next advances the iterator; it returns false when exhausted.
	Next() bool

	// Link returns the current link.
	Link() *Link

	// Error returns the last error encountered by the iterator.
	Error() error

	// Close releases the iterator.
	Close() error
}
