package crawler

import (
	"os"
	"path/filepath"
	"time"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(new(stateTestSuite))

type stateTestSuite struct{}

func (s *stateTestSuite) TestSaveLoadClear(c *check.C) {
	dir := c.MkDir()
	store := NewFileStateStore(dir)

	_, err := store.Load()
	c.Assert(err, check.Equals, ErrNoState)

	saved := &FrontierState{
		PendingURLs:      []string{"http://example.com/b"},
		CurrentIteration: 3,
		PageCount:        42,
		URLsTaken:        []string{"http://example.com/"},
		IsPaused:         true,
		Timestamp:        time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	c.Assert(store.Save(saved), check.IsNil)

	raw, err := os.ReadFile(filepath.Join(dir, StateFileName))
	c.Assert(err, check.IsNil)
	c.Assert(string(raw), check.Matches, `(?s).*"pending_urls".*"current_iteration": 3.*"is_paused": true.*`)

	loaded, err := store.Load()
	c.Assert(err, check.IsNil)
	c.Assert(loaded, check.DeepEquals, saved)

	c.Assert(store.Clear(), check.IsNil)
	c.Assert(store.Clear(), check.IsNil)
	_, err = store.Load()
	c.Assert(err, check.Equals, ErrNoState)
}

func (s *stateTestSuite) TestCorruptStateIsAnError(c *check.C) {
	dir := c.MkDir()
	c.Assert(os.WriteFile(filepath.Join(dir, StateFileName), []byte("{"), 0o644), check.IsNil)

	_, err := NewFileStateStore(dir).Load()
	c.Assert(err, check.ErrorMatches, "load crawl state: .*")
}

func (s *stateTestSuite) TestVisitedSet(c *check.C) {
	v := newVisitedSet()

	c.Assert(v.markIfNew("http://a/"), check.Equals, true)
	c.Assert(v.markIfNew("http://a/"), check.Equals, false)
	c.Assert(v.unvisited([]string{"http://c/", "http://a/", "http://b/", "http://c/"}), check.DeepEquals,
		[]string{"http://c/", "http://b/"})

	v.replace([]string{"http://z/", "http://y/"})
	c.Assert(v.contains("http://a/"), check.Equals, false)
	c.Assert(v.sorted(), check.DeepEquals, []string{"http://y/", "http://z/"})
	c.Assert(v.size(), check.Equals, 2)
}
