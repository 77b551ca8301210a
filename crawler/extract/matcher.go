package extract

import (
	"sync"

	"github.com/cloudflare/ahocorasick"
)

// substringSet reports whether a string contains any of a fixed set of
// substrings. The underlying matcher keeps per-call state, hence the mutex.
type substringSet struct {
	mu sync.Mutex
	m  *ahocorasick.Matcher
}

func newSubstringSet(patterns []string) *substringSet {
	var nonEmpty []string
	for _, p := range patterns {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return &substringSet{}
	}

	return &substringSet{m: ahocorasick.NewStringMatcher(nonEmpty)}
}

func (s *substringSet) containsAny(text string) bool {
	if s.m == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.m.Match([]byte(text))) > 0
}
