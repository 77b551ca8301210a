// Package memory provides an in-memory page store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mycok/zhsearch/pagestore/page"
)

var (
	_ page.Store   = (*InMemoryStore)(nil)
	_ page.Session = (*session)(nil)
)

type linkKey struct {
	from, to string
}

// InMemoryStore keeps pages, links and downloads in maps guarded by a
// RWMutex.
type InMemoryStore struct {
	mu sync.RWMutex

	pages     map[string]*page.Page
	links     map[linkKey]*page.Link
	downloads map[string]*page.Download
	nextID    int64
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		pages:     make(map[string]*page.Page),
		links:     make(map[linkKey]*page.Link),
		downloads: make(map[string]*page.Download),
	}
}

// Session implements page.Store. All sessions share the store maps.
func (s *InMemoryStore) Session(_ context.Context) (page.Session, error) {
	return &session{store: s}, nil
}

// Stats implements page.Store.
func (s *InMemoryStore) Stats(_ context.Context) (*page.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &page.Stats{
		TotalPages:     len(s.pages),
		TotalLinks:     len(s.links),
		TotalDownloads: len(s.downloads),
		FileTypes:      make(map[string]int),
		Encodings:      make(map[string]int),
		Domains:        make(map[string]int),
	}

	for _, p := range s.pages {
		if p.Encoding != "" {
			st.Encodings[p.Encoding]++
		}
	}
	for _, d := range s.downloads {
		st.FileTypes[d.FileType]++
	}
	for k := range s.links {
		if host := page.Host(k.to); host != "" {
			st.Domains[host]++
		}
	}

	return st, nil
}

// Pages implements page.Store.
func (s *InMemoryStore) Pages(_ context.Context) (page.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*page.Page, 0, len(s.pages))
	for _, p := range s.pages {
		pCopy := new(page.Page)
		*pCopy = *p
		list = append(list, pCopy)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].URL < list[j].URL })

	return &pageIterator{pages: list}, nil
}

// Links implements page.Store.
func (s *InMemoryStore) Links(_ context.Context) (page.LinkIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*page.Link, 0, len(s.links))
	for _, l := range s.links {
		lCopy := new(page.Link)
		*lCopy = *l
		list = append(list, lCopy)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].FromURL != list[j].FromURL {
			return list[i].FromURL < list[j].FromURL
		}

		return list[i].ToURL < list[j].ToURL
	})

	return &linkIterator{links: list}, nil
}

// UpdatePageRank implements page.Store. Unknown URLs are ignored.
func (s *InMemoryStore) UpdatePageRank(_ context.Context, url string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pages[url]; ok {
		p.PageRank = score
	}

	return nil
}

// Close implements page.Store.
func (s *InMemoryStore) Close() error { return nil }

type session struct {
	store *InMemoryStore
}

func (sess *session) SavePage(_ context.Context, p *page.Page) error {
	p.ContentHash = page.HashHTML(p.HTML)
	if p.CrawledAt.IsZero() {
		p.CrawledAt = time.Now()
	}

	pCopy := new(page.Page)
	*pCopy = *p

	sess.store.mu.Lock()
	sess.store.pages[p.URL] = pCopy
	sess.store.mu.Unlock()

	return nil
}

func (sess *session) SaveLink(_ context.Context, l *page.Link) error {
	key := linkKey{from: l.FromURL, to: l.ToURL}

	sess.store.mu.Lock()
	defer sess.store.mu.Unlock()

	if _, exists := sess.store.links[key]; exists {
		return nil
	}

	lCopy := new(page.Link)
	*lCopy = *l
	if lCopy.CrawledAt.IsZero() {
		lCopy.CrawledAt = time.Now()
	}
	sess.store.links[key] = lCopy

	return nil
}

func (sess *session) SaveDownload(_ context.Context, d *page.Download) (int64, bool, error) {
	sess.store.mu.Lock()
	defer sess.store.mu.Unlock()

	if existing, ok := sess.store.downloads[d.URL]; ok {
		d.ID = existing.ID
		return existing.ID, false, nil
	}

	sess.store.nextID++
	d.ID = sess.store.nextID
	if d.CrawledAt.IsZero() {
		d.CrawledAt = time.Now()
	}

	dCopy := new(page.Download)
	*dCopy = *d
	sess.store.downloads[d.URL] = dCopy

	return d.ID, true, nil
}

func (sess *session) Close() error { return nil }

type pageIterator struct {
	pages []*page.Page
	cur   *page.Page
}

func (it *pageIterator) Next() bool {
	if len(it.pages) == 0 {
		return false
	}
	it.cur, it.pages = it.pages[0], it.pages[1:]

	return true
}

func (it *pageIterator) Page() *page.Page { return it.cur }
func (it *pageIterator) Error() error     { return nil }
func (it *pageIterator) Close() error     { return nil }

type linkIterator struct {
	links []*page.Link
	cur   *page.Link
}

func (it *linkIterator) Next() bool {
	if len(it.links) == 0 {
		return false
	}
	it.cur, it.links = it.links[0], it.links[1:]

	return true
}

func (it *linkIterator) Link() *page.Link { return it.cur }
func (it *linkIterator) Error() error     { return nil }
func (it *linkIterator) Close() error     { return nil }
