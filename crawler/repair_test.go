package crawler

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/pagestore/page"
	"github.com/mycok/zhsearch/pagestore/store/memory"
)

var _ = check.Suite(new(repairTestSuite))

type repairTestSuite struct {
	store *memory.InMemoryStore
	cfg   Config
}

const gbkArticle = `<html><head><meta charset="gbk"><title>中文新闻</title></head>` +
	`<body><div class="article"><p>今天的新闻内容非常丰富，记者在北京报道了城市交通的最新变化。</p></div></body></html>`

func (s *repairTestSuite) SetUpTest(c *check.C) {
	s.store = memory.NewInMemoryStore()
	s.cfg = DefaultConfig()
	s.cfg.Store = s.store
	s.cfg.ContentExtraction.ContentSelectors = []string{"div.article"}
	s.cfg.Detector = nopDetector{}
}

// mojibake returns html as it reads after its GBK bytes were decoded as
// ISO-8859-1.
func mojibake(c *check.C, html string) string {
	raw, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(html))
	c.Assert(err, check.IsNil)
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	c.Assert(err, check.IsNil)

	return string(text)
}

func (s *repairTestSuite) save(c *check.C, pages ...*page.Page) {
	sess, err := s.store.Session(context.TODO())
	c.Assert(err, check.IsNil)
	for _, p := range pages {
		c.Assert(sess.SavePage(context.TODO(), p), check.IsNil)
	}
	c.Assert(sess.Close(), check.IsNil)
}

func (s *repairTestSuite) pages(c *check.C) map[string]*page.Page {
	it, err := s.store.Pages(context.TODO())
	c.Assert(err, check.IsNil)

	out := make(map[string]*page.Page)
	for it.Next() {
		out[it.Page().URL] = it.Page()
	}
	c.Assert(it.Error(), check.IsNil)
	c.Assert(it.Close(), check.IsNil)

	return out
}

func (s *repairTestSuite) TestRepairRedecodesMisreadPages(c *check.C) {
	s.save(c,
		&page.Page{URL: "https://news.example.cn/a", HTML: mojibake(c, gbkArticle), Encoding: "iso-8859-1", Title: "ÖÐÎÄ"},
		&page.Page{
			URL:      "https://news.example.cn/b",
			HTML:     `<html><head><meta charset="utf-8"><title>体育</title></head><body><div class="article">比赛</div></body></html>`,
			Encoding: "utf-8",
			Title:    "体育",
		},
	)
	c.Assert(s.store.UpdatePageRank(context.TODO(), "https://news.example.cn/a", 0.4), check.IsNil)

	report, err := RepairEncodings(context.TODO(), s.cfg)
	c.Assert(err, check.IsNil)
	c.Assert(report, check.DeepEquals, RepairReport{Checked: 2, Fixed: 1})

	pages := s.pages(c)
	a := pages["https://news.example.cn/a"]
	c.Assert(a.Encoding, check.Equals, "gb18030")
	c.Assert(a.Title, check.Equals, "中文新闻")
	c.Assert(strings.Contains(a.Content, "城市交通"), check.Equals, true, check.Commentf(a.Content))
	c.Assert(a.HTML, check.Equals, gbkArticle)
	c.Assert(a.ContentHash, check.Equals, page.HashHTML(gbkArticle))
	c.Assert(a.PageRank, check.Equals, 0.4)

	c.Assert(pages["https://news.example.cn/b"].Title, check.Equals, "体育")

	// A second pass finds nothing left to repair.
	report, err = RepairEncodings(context.TODO(), s.cfg)
	c.Assert(err, check.IsNil)
	c.Assert(report, check.DeepEquals, RepairReport{Checked: 2})
}

func (s *repairTestSuite) TestRepairHonoursForcedEncoding(c *check.C) {
	s.save(c, &page.Page{URL: "https://news.example.cn/a", HTML: mojibake(c, gbkArticle), Encoding: "iso-8859-1"})

	s.cfg.EncodingSettings.ForceEncoding = "GB2312"
	report, err := RepairEncodings(context.TODO(), s.cfg)
	c.Assert(err, check.IsNil)
	c.Assert(report.Fixed, check.Equals, 1)
	c.Assert(s.pages(c)["https://news.example.cn/a"].Encoding, check.Equals, "gb18030")
}

func (s *repairTestSuite) TestRepairRequiresStore(c *check.C) {
	_, err := RepairEncodings(context.TODO(), Config{})
	c.Assert(err, check.ErrorMatches, "repair encodings: a page store is required")
}

type nopDetector struct{}

func (nopDetector) Detect([]byte) (string, float64, error) {
	return "", 0, errors.New("no guess")
}
