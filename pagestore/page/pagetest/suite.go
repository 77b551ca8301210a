// Package pagetest holds tests shared by every page.Store implementation.
package pagetest

import (
	"context"
	"fmt"
	"sync"

	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/pagestore/page"
)

// BaseSuite runs the same set of tests against any page.Store.
type BaseSuite struct {
	store page.Store
}

// SetStore configures the store under test.
func (s *BaseSuite) SetStore(store page.Store) {
	s.store = store
}

func (s *BaseSuite) session(c *check.C) page.Session {
	sess, err := s.store.Session(context.TODO())
	c.Assert(err, check.IsNil)

	return sess
}

// TestSavePageUpsert verifies that saving a page twice keeps one row holding
// the latest content.
func (s *BaseSuite) TestSavePageUpsert(c *check.C) {
	sess := s.session(c)
	defer func() { c.Assert(sess.Close(), check.IsNil) }()

	p := &page.Page{
		URL:      "https://news.example.cn/1",
		Title:    "旧标题",
		Content:  "旧内容",
		HTML:     "<html>old</html>",
		Encoding: "utf-8",
	}
	c.Assert(sess.SavePage(context.TODO(), p), check.IsNil)

	p2 := &page.Page{
		URL:         "https://news.example.cn/1",
		Title:       "新标题",
		Content:     "新内容",
		HTML:        "<html>new</html>",
		Encoding:    "gb18030",
		PublishTime: "2024-01-02",
		Source:      "新华社",
	}
	c.Assert(sess.SavePage(context.TODO(), p2), check.IsNil)
	c.Assert(p2.ContentHash, check.Equals, page.HashHTML("<html>new</html>"))

	pages := s.allPages(c)
	c.Assert(pages, check.HasLen, 1)
	c.Assert(pages[0].Title, check.Equals, "新标题")
	c.Assert(pages[0].Content, check.Equals, "新内容")
	c.Assert(pages[0].HTML, check.Equals, "<html>new</html>")
	c.Assert(pages[0].ContentHash, check.Equals, page.HashHTML("<html>new</html>"))
	c.Assert(pages[0].Encoding, check.Equals, "gb18030")
	c.Assert(pages[0].Source, check.Equals, "新华社")
}

// TestDuplicateLinksIgnored verifies that a link is stored once per
// (from, to) pair.
func (s *BaseSuite) TestDuplicateLinksIgnored(c *check.C) {
	sess := s.session(c)
	defer func() { c.Assert(sess.Close(), check.IsNil) }()

	for i := 0; i < 3; i++ {
		err := sess.SaveLink(context.TODO(), &page.Link{
			FromURL:    "https://a.example.cn/",
			ToURL:      "https://b.example.cn/",
			AnchorText: fmt.Sprintf("第%d次", i),
		})
		c.Assert(err, check.IsNil)
	}
	c.Assert(sess.SaveLink(context.TODO(), &page.Link{
		FromURL: "https://b.example.cn/",
		ToURL:   "https://a.example.cn/",
	}), check.IsNil)

	stats, err := s.store.Stats(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(stats.TotalLinks, check.Equals, 2)
}

// TestLinksOrdered verifies that Links returns every stored link ordered
// by source and then target URL.
func (s *BaseSuite) TestLinksOrdered(c *check.C) {
	sess := s.session(c)
	defer func() { c.Assert(sess.Close(), check.IsNil) }()

	for _, l := range []*page.Link{
		{FromURL: "https://b.example.cn/", ToURL: "https://a.example.cn/"},
		{FromURL: "https://a.example.cn/", ToURL: "https://c.example.cn/", AnchorText: "丙"},
		{FromURL: "https://a.example.cn/", ToURL: "https://b.example.cn/", AnchorText: "乙"},
	} {
		c.Assert(sess.SaveLink(context.TODO(), l), check.IsNil)
	}

	it, err := s.store.Links(context.TODO())
	c.Assert(err, check.IsNil)

	var got []string
	for it.Next() {
		got = append(got, it.Link().FromURL+" "+it.Link().ToURL)
	}
	c.Assert(it.Error(), check.IsNil)
	c.Assert(it.Close(), check.IsNil)
	c.Assert(got, check.DeepEquals, []string{
		"https://a.example.cn/ https://b.example.cn/",
		"https://a.example.cn/ https://c.example.cn/",
		"https://b.example.cn/ https://a.example.cn/",
	})
}

// TestDownloadIDsStable verifies that a download keeps its id when saved
// again.
func (s *BaseSuite) TestDownloadIDsStable(c *check.C) {
	sess := s.session(c)
	defer func() { c.Assert(sess.Close(), check.IsNil) }()

	d := &page.Download{
		URL:      "https://a.example.cn/files/report.pdf",
		Filename: "report.pdf",
		Title:    "年度报告",
		FileType: "pdf",
	}
	id, isNew, err := sess.SaveDownload(context.TODO(), d)
	c.Assert(err, check.IsNil)
	c.Assert(isNew, check.Equals, true)
	c.Assert(id > 0, check.Equals, true)

	again, isNew, err := sess.SaveDownload(context.TODO(), &page.Download{
		URL:      d.URL,
		Filename: d.Filename,
		FileType: d.FileType,
	})
	c.Assert(err, check.IsNil)
	c.Assert(isNew, check.Equals, false)
	c.Assert(again, check.Equals, id)

	other, isNew, err := sess.SaveDownload(context.TODO(), &page.Download{
		URL:      "https://a.example.cn/files/data.xlsx",
		Filename: "data.xlsx",
		FileType: "xlsx",
	})
	c.Assert(err, check.IsNil)
	c.Assert(isNew, check.Equals, true)
	c.Assert(other, check.Not(check.Equals), id)
}

// TestStats verifies the aggregated counters.
func (s *BaseSuite) TestStats(c *check.C) {
	sess := s.session(c)
	defer func() { c.Assert(sess.Close(), check.IsNil) }()

	for i, enc := range []string{"utf-8", "utf-8", "gb18030"} {
		c.Assert(sess.SavePage(context.TODO(), &page.Page{
			URL:      fmt.Sprintf("https://a.example.cn/%d", i),
			Title:    "标题",
			Content:  "内容",
			HTML:     "<html></html>",
			Encoding: enc,
		}), check.IsNil)
	}

	for _, to := range []string{
		"https://a.example.cn/1",
		"https://a.example.cn/2",
		"https://b.example.cn/",
	} {
		c.Assert(sess.SaveLink(context.TODO(), &page.Link{
			FromURL: "https://a.example.cn/0",
			ToURL:   to,
		}), check.IsNil)
	}

	for _, name := range []string{"a.pdf", "b.pdf", "c.doc"} {
		_, _, err := sess.SaveDownload(context.TODO(), &page.Download{
			URL:      "https://a.example.cn/f/" + name,
			Filename: name,
			FileType: name[2:],
		})
		c.Assert(err, check.IsNil)
	}

	stats, err := s.store.Stats(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(stats.TotalPages, check.Equals, 3)
	c.Assert(stats.TotalLinks, check.Equals, 3)
	c.Assert(stats.TotalDownloads, check.Equals, 3)
	c.Assert(stats.Encodings, check.DeepEquals, map[string]int{"utf-8": 2, "gb18030": 1})
	c.Assert(stats.FileTypes, check.DeepEquals, map[string]int{"pdf": 2, "doc": 1})
	c.Assert(stats.Domains, check.DeepEquals, map[string]int{"a.example.cn": 2, "b.example.cn": 1})
}

// TestUpdatePageRank verifies that scores are written onto pages.
func (s *BaseSuite) TestUpdatePageRank(c *check.C) {
	sess := s.session(c)
	defer func() { c.Assert(sess.Close(), check.IsNil) }()

	c.Assert(sess.SavePage(context.TODO(), &page.Page{
		URL:  "https://a.example.cn/",
		HTML: "<html></html>",
	}), check.IsNil)

	c.Assert(s.store.UpdatePageRank(context.TODO(), "https://a.example.cn/", 0.42), check.IsNil)

	pages := s.allPages(c)
	c.Assert(pages, check.HasLen, 1)
	c.Assert(pages[0].PageRank, check.Equals, 0.42)
}

// TestConcurrentSessions verifies that several sessions can write at the
// same time.
func (s *BaseSuite) TestConcurrentSessions(c *check.C) {
	const (
		workers   = 4
		perWorker = 25
	)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()

			sess, err := s.store.Session(context.TODO())
			if err != nil {
				c.Error(err)
				return
			}
			defer func() { _ = sess.Close() }()

			for i := 0; i < perWorker; i++ {
				err := sess.SavePage(context.TODO(), &page.Page{
					URL:  fmt.Sprintf("https://w%d.example.cn/%d", w, i),
					HTML: "<html></html>",
				})
				if err != nil {
					c.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	stats, err := s.store.Stats(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(stats.TotalPages, check.Equals, workers*perWorker)
}

func (s *BaseSuite) allPages(c *check.C) []*page.Page {
	it, err := s.store.Pages(context.TODO())
	c.Assert(err, check.IsNil)

	var out []*page.Page
	for it.Next() {
		out = append(out, it.Page())
	}
	c.Assert(it.Error(), check.IsNil)
	c.Assert(it.Close(), check.IsNil)

	return out
}
