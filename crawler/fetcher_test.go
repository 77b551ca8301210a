package crawler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/simplifiedchinese"
	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/crawler/charset"
	mock_crawler "github.com/mycok/zhsearch/crawler/mocks"
)

var _ = check.Suite(new(fetcherTestSuite))

type fetcherTestSuite struct {
	urlGetter   *mock_crawler.MockURLGetter
	netDetector *mock_crawler.MockPrivateNetworkDetector
	visited     *visitedSet
}

func (s *fetcherTestSuite) SetUpTest(c *check.C) {
	ctrl := gomock.NewController(c)

	s.urlGetter = mock_crawler.NewMockURLGetter(ctrl)
	s.netDetector = mock_crawler.NewMockPrivateNetworkDetector(ctrl)
	s.visited = newVisitedSet()
}

func (s *fetcherTestSuite) TestSkipsNonHTMLExtensions(c *check.C) {
	payload := s.fetch(c, "http://example.com/logo.png")
	c.Assert(payload, check.IsNil)
	c.Assert(s.visited.size(), check.Equals, 0)
}

func (s *fetcherTestSuite) TestSkipsPrivateNetworks(c *check.C) {
	s.netDetector.EXPECT().IsNetworkPrivate("169.254.169.254").Return(true, nil)

	payload := s.fetch(c, "http://169.254.169.254/latest/meta-data")
	c.Assert(payload, check.IsNil)
}

func (s *fetcherTestSuite) TestSkipsVisitedURLs(c *check.C) {
	s.visited.markIfNew("http://example.com/index.html")
	s.netDetector.EXPECT().IsNetworkPrivate("example.com").Return(false, nil)

	payload := s.fetch(c, "http://example.com/index.html")
	c.Assert(payload, check.IsNil)
}

func (s *fetcherTestSuite) TestNon200StatusIsAFailure(c *check.C) {
	s.netDetector.EXPECT().IsNetworkPrivate("example.com").Return(false, nil)
	s.urlGetter.EXPECT().Do(gomock.Any()).Return(makeResponse(301, "text/html", "<html>moved away</html>"), nil)

	payload := s.fetch(c, "http://example.com/moved")
	c.Assert(payload, check.IsNil)
	c.Assert(s.visited.contains("http://example.com/moved"), check.Equals, true)
}

func (s *fetcherTestSuite) TestTransportErrorIsAFailure(c *check.C) {
	s.netDetector.EXPECT().IsNetworkPrivate("example.com").Return(false, nil)
	s.urlGetter.EXPECT().Do(gomock.Any()).Return(nil, errors.New("connection refused"))

	payload := s.fetch(c, "http://example.com/down")
	c.Assert(payload, check.IsNil)
}

func (s *fetcherTestSuite) TestSkipsNonHTMLContentType(c *check.C) {
	s.netDetector.EXPECT().IsNetworkPrivate("example.com").Return(false, nil)
	s.urlGetter.EXPECT().Do(gomock.Any()).Return(makeResponse(200, "application/json", `{"products": ["a", "b", "c"]}`), nil)

	payload := s.fetch(c, "http://example.com/api/products")
	c.Assert(payload, check.IsNil)
}

func (s *fetcherTestSuite) TestSkipsShortContent(c *check.C) {
	s.netDetector.EXPECT().IsNetworkPrivate("example.com").Return(false, nil)
	s.urlGetter.EXPECT().Do(gomock.Any()).Return(makeResponse(200, "text/html", "   短内容  \n"), nil)

	payload := s.fetch(c, "http://example.com/short")
	c.Assert(payload, check.IsNil)
}

func (s *fetcherTestSuite) TestSendsBrowserHeaders(c *check.C) {
	s.netDetector.EXPECT().IsNetworkPrivate("example.com").Return(false, nil)
	s.urlGetter.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		c.Assert(req.Header.Get("User-Agent"), check.Equals, "test-agent")
		c.Assert(req.Header.Get("Accept-Language"), check.Matches, "zh-CN.*")
		c.Assert(req.URL.String(), check.Equals, "http://example.com:1234/index.html")

		return makeResponse(200, "text/html; charset=utf-8", "<html><title>你好</title>欢迎访问我们的网站</html>"), nil
	})

	payload := s.fetch(c, "http://example.com:1234/index.html")
	c.Assert(payload, check.NotNil)
	c.Assert(payload.Encoding, check.Equals, "utf-8")
	c.Assert(payload.HTML, check.Matches, ".*欢迎访问我们的网站.*")
}

func (s *fetcherTestSuite) TestDecodesGBKPages(c *check.C) {
	body := "<html><head><title>新闻中心</title></head><body>今天的天气非常好，适合出门散步。</body></html>"
	gbk, err := simplifiedchinese.GBK.NewEncoder().String(body)
	c.Assert(err, check.IsNil)

	s.netDetector.EXPECT().IsNetworkPrivate("news.example.cn").Return(false, nil)
	s.urlGetter.EXPECT().Do(gomock.Any()).Return(makeResponse(200, "text/html; charset=gbk", gbk), nil)

	payload := s.fetch(c, "http://news.example.cn/")
	c.Assert(payload, check.NotNil)
	c.Assert(payload.Encoding, check.Equals, "gb18030")
	c.Assert(payload.HTML, check.Equals, body)
}

func (s *fetcherTestSuite) fetch(c *check.C, url string) *crawlerPayload {
	f := &fetcher{
		getter:      s.urlGetter,
		netDetector: s.netDetector,
		resolver:    charset.NewResolver(charset.Config{DetectEncoding: true, UseMetaCharset: true}),
		visited:     s.visited,
		userAgents:  []string{"test-agent"},
		timeout:     time.Second,
		clk:         clock.WallClock,
		metrics:     newMetrics(nil),
		logger:      logrus.NewEntry(&logrus.Logger{Out: io.Discard}),
	}

	out, err := f.Process(context.TODO(), &crawlerPayload{URL: url})
	c.Assert(err, check.IsNil)
	if out == nil {
		return nil
	}

	return out.(*crawlerPayload)
}

func makeResponse(status int, contentType, body string) *http.Response {
	res := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}

	if contentType != "" {
		res.Header.Set("Content-Type", contentType)
	}

	return res
}

func (s *fetcherTestSuite) TestHTTPGetterRedirectPolicy(c *check.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	for _, spec := range []struct {
		follow bool
		exp    int
	}{
		{follow: true, exp: http.StatusOK},
		{follow: false, exp: http.StatusMovedPermanently},
	} {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/old", nil)
		c.Assert(err, check.IsNil)

		res, err := newHTTPGetter(time.Second, spec.follow).Do(req)
		c.Assert(err, check.IsNil)
		c.Assert(res.StatusCode, check.Equals, spec.exp, check.Commentf("follow redirects: %v", spec.follow))
		c.Assert(res.Body.Close(), check.IsNil)
	}
}
