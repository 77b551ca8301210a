package crawler

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/crawler/extract"
	"github.com/mycok/zhsearch/linkgraph"
	"github.com/mycok/zhsearch/pagestore/page"
	mock_page "github.com/mycok/zhsearch/pagestore/page/mocks"
)

var _ = check.Suite(new(recorderTestSuite))

type recorderTestSuite struct {
	session *mock_page.MockSession
	graph   *linkgraph.LinkGraph
	events  *eventLog
	rec     *recorder
	dir     string
}

func (s *recorderTestSuite) SetUpTest(c *check.C) {
	ctrl := gomock.NewController(c)

	s.session = mock_page.NewMockSession(ctrl)
	s.graph = linkgraph.New(nil)
	s.events = new(eventLog)
	s.dir = c.MkDir()
	s.rec = &recorder{
		session:  s.session,
		graph:    s.graph,
		pages:    new(pageCounter),
		maxPages: 100,
		progress: s.events,
		out:      &artifacts{dir: s.dir},
		clk:      testclock.NewClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
		metrics:  newMetrics(nil),
		logger:   logrus.NewEntry(&logrus.Logger{Out: io.Discard}),
	}
}

func (s *recorderTestSuite) TestSavesAcceptablePage(c *check.C) {
	s.session.EXPECT().SavePage(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *page.Page) error {
			c.Assert(p.URL, check.Equals, "http://example.com/a")
			c.Assert(p.Title, check.Equals, "新闻")
			c.Assert(p.Content, check.Equals, "正文内容")
			c.Assert(p.Encoding, check.Equals, "gb18030")
			c.Assert(p.CrawledAt.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)), check.Equals, true)
			return nil
		},
	)
	s.session.EXPECT().SaveLink(gomock.Any(), &page.Link{
		FromURL:    "http://example.com/a",
		ToURL:      "http://example.com/b",
		AnchorText: "下一页",
		CrawledAt:  time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}).Return(nil)

	_, err := s.rec.Process(context.TODO(), &crawlerPayload{
		URL:      "http://example.com/a",
		HTML:     "<html></html>",
		Encoding: "gb18030",
		Content:  extract.Content{Title: "新闻", Body: "正文内容"},
		Links:    []extract.Link{{URL: "http://example.com/b", AnchorText: "下一页"}},
	})
	c.Assert(err, check.IsNil)

	c.Assert(s.rec.pages.get(), check.Equals, 1)
	c.Assert(s.events.types(), check.DeepEquals, []string{"progress_update"})
	c.Assert(s.events.data(0)["page_count"], check.Equals, 1)

	nodes, edges, err := s.graph.Counts()
	c.Assert(err, check.IsNil)
	c.Assert(nodes, check.Equals, 2)
	c.Assert(edges, check.Equals, 1)
}

func (s *recorderTestSuite) TestRejectedPageStillRecordsLinks(c *check.C) {
	s.session.EXPECT().SaveLink(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	_, err := s.rec.Process(context.TODO(), &crawlerPayload{
		URL:     "http://example.com/missing",
		Content: extract.Content{Title: "404 页面不存在", Body: "找不到页面"},
		Links: []extract.Link{
			{URL: "http://example.com/", AnchorText: "首页"},
			{URL: "http://example.com/help", AnchorText: "帮助"},
		},
	})
	c.Assert(err, check.IsNil)
	c.Assert(s.rec.pages.get(), check.Equals, 0)
	c.Assert(s.events.types(), check.HasLen, 0)

	_, edges, err := s.graph.Counts()
	c.Assert(err, check.IsNil)
	c.Assert(edges, check.Equals, 2)
}

func (s *recorderTestSuite) TestStoreFailuresAreNotFatal(c *check.C) {
	s.session.EXPECT().SavePage(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	s.session.EXPECT().SaveLink(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	s.session.EXPECT().SaveDownload(gomock.Any(), gomock.Any()).Return(int64(0), false, errors.New("disk full"))

	out, err := s.rec.Process(context.TODO(), &crawlerPayload{
		URL:       "http://example.com/a",
		Content:   extract.Content{Title: "标题", Body: "正文"},
		Links:     []extract.Link{{URL: "http://example.com/b", AnchorText: "b"}},
		Downloads: []extract.Download{{URL: "http://example.com/f.pdf", Filename: "f.pdf", FileType: "pdf"}},
	})
	c.Assert(err, check.IsNil)
	c.Assert(out, check.NotNil)
	c.Assert(s.rec.pages.get(), check.Equals, 0)

	// The graph is updated even though the link row was not written.
	_, edges, err := s.graph.Counts()
	c.Assert(err, check.IsNil)
	c.Assert(edges, check.Equals, 1)
}

func (s *recorderTestSuite) TestWritesDownloadFiles(c *check.C) {
	s.session.EXPECT().SaveDownload(gomock.Any(), gomock.Any()).Return(int64(7), true, nil)

	_, err := s.rec.Process(context.TODO(), &crawlerPayload{
		URL: "http://example.com/a",
		Downloads: []extract.Download{{
			URL: "http://example.com/files/report.pdf", Filename: "report.pdf", Title: "年度报告", FileType: "pdf",
		}},
	})
	c.Assert(err, check.IsNil)

	data, err := os.ReadFile(filepath.Join(s.dir, "download_7.json"))
	c.Assert(err, check.IsNil)
	c.Assert(string(data), check.Matches, `(?s).*"title": "年度报告".*`)
}

func (s *recorderTestSuite) TestWritesSampleEveryFiftyPages(c *check.C) {
	s.rec.pages.set(sampleEvery - 1)
	s.session.EXPECT().SavePage(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.rec.Process(context.TODO(), &crawlerPayload{
		URL:     "http://example.com/a",
		HTML:    "<html>sample</html>",
		Content: extract.Content{Title: "标题", Body: "正文"},
	})
	c.Assert(err, check.IsNil)

	data, err := os.ReadFile(filepath.Join(s.dir, "sample_page_50.html"))
	c.Assert(err, check.IsNil)
	c.Assert(string(data), check.Equals, "<html>sample</html>")
}

func (s *recorderTestSuite) TestCloseReleasesSession(c *check.C) {
	s.session.EXPECT().Close().Return(nil)
	c.Assert(s.rec.Close(), check.IsNil)
}
