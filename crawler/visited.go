package crawler

import (
	"sort"
	"sync"
)

// visitedSet is the set of URLs already dispatched to a fetch. It is shared
// by every fetch worker of a batch.
type visitedSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func newVisitedSet() *visitedSet {
	return &visitedSet{urls: make(map[string]struct{})}
}

// markIfNew marks u as visited and reports whether it was unvisited.
func (s *visitedSet) markIfNew(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.urls[u]; seen {
		return false
	}
	s.urls[u] = struct{}{}

	return true
}

func (s *visitedSet) contains(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, seen := s.urls[u]
	return seen
}

// unvisited returns the URLs of list that have not been visited, without
// duplicates and in their original order.
func (s *visitedSet) unvisited(list []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, u := range list {
		if _, ok := s.urls[u]; ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	return out
}

func (s *visitedSet) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	sort.Strings(out)

	return out
}

func (s *visitedSet) replace(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.urls = make(map[string]struct{}, len(urls))
	for _, u := range urls {
		s.urls[u] = struct{}{}
	}
}

func (s *visitedSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.urls)
}
