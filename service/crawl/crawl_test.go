package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/crawler"
	mock_crawl "github.com/mycok/zhsearch/service/crawl/mocks"
)

var _ = check.Suite(new(ConfigTestSuite))
var _ = check.Suite(new(CrawlServiceTestSuite))

func Test(t *testing.T) {
	check.TestingT(t)
}

type ConfigTestSuite struct{}

func (s *ConfigTestSuite) TestConfigValidation(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	config := Config{Engine: mock_crawl.NewMockEngine(ctrl)}
	c.Assert(config.validate(), check.IsNil)
	c.Assert(config.Clock, check.Not(check.IsNil), check.Commentf("default clock was not assigned"))
	c.Assert(config.Logger, check.Not(check.IsNil), check.Commentf("default logger was not assigned"))

	config = Config{}
	c.Assert(config.validate(), check.ErrorMatches, "(?ms).*crawl engine not provided.*")

	_, err := New(Config{})
	c.Assert(err, check.ErrorMatches, "(?ms)crawl service: config validation failed.*")
}

type CrawlServiceTestSuite struct {
	ctrl   *gomock.Controller
	engine *mock_crawl.MockEngine
}

func (s *CrawlServiceTestSuite) SetUpTest(c *check.C) {
	s.ctrl = gomock.NewController(c)
	s.engine = mock_crawl.NewMockEngine(s.ctrl)
}

func (s *CrawlServiceTestSuite) TearDownTest(c *check.C) {
	s.ctrl.Finish()
}

func (s *CrawlServiceTestSuite) service(c *check.C, resume bool) *Service {
	svc, err := New(Config{
		Engine:    s.engine,
		StartURLs: []string{"http://news.example.cn/"},
		Resume:    resume,
	})
	c.Assert(err, check.IsNil)

	return svc
}

func (s *CrawlServiceTestSuite) TestFreshCrawlInitializesFirst(c *check.C) {
	gomock.InOrder(
		s.engine.EXPECT().Initialize(gomock.Any()).Return(nil),
		s.engine.EXPECT().Crawl(gomock.Any(), []string{"http://news.example.cn/"}).Return(nil),
	)
	s.engine.EXPECT().PageCount().Return(3)

	c.Assert(s.service(c, false).Run(context.TODO()), check.IsNil)
}

func (s *CrawlServiceTestSuite) TestResumeSkipsInitialize(c *check.C) {
	s.engine.EXPECT().Resume(gomock.Any(), []string{"http://news.example.cn/"}).Return(nil)
	s.engine.EXPECT().PageCount().Return(3)

	c.Assert(s.service(c, true).Run(context.TODO()), check.IsNil)
}

func (s *CrawlServiceTestSuite) TestStoppedCrawlIsNotAnError(c *check.C) {
	s.engine.EXPECT().Resume(gomock.Any(), gomock.Any()).Return(crawler.ErrStopped)
	s.engine.EXPECT().PageCount().Return(1)

	c.Assert(s.service(c, true).Run(context.TODO()), check.IsNil)
}

func (s *CrawlServiceTestSuite) TestCrawlFailureIsReported(c *check.C) {
	s.engine.EXPECT().Initialize(gomock.Any()).Return(nil)
	s.engine.EXPECT().Crawl(gomock.Any(), gomock.Any()).Return(fmt.Errorf("collect crawl stats: disk I/O error"))
	s.engine.EXPECT().PageCount().Return(0)

	err := s.service(c, false).Run(context.TODO())
	c.Assert(err, check.ErrorMatches, "crawl: collect crawl stats: disk I/O error")
}

func (s *CrawlServiceTestSuite) TestInitializeFailureAbortsRun(c *check.C) {
	s.engine.EXPECT().Initialize(gomock.Any()).Return(crawler.ErrInvalidState)

	err := s.service(c, false).Run(context.TODO())
	c.Assert(errors.Is(err, crawler.ErrInvalidState), check.Equals, true)
}

func (s *CrawlServiceTestSuite) TestCancellationStopsEngine(c *check.C) {
	ctx, cancelFn := context.WithCancel(context.TODO())
	stopped := make(chan struct{})

	s.engine.EXPECT().Initialize(gomock.Any()).Return(nil)
	s.engine.EXPECT().Crawl(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, []string) error {
		cancelFn()

		select {
		case <-stopped:
			return crawler.ErrStopped
		case <-time.After(5 * time.Second):
			return errors.New("engine was never stopped")
		}
	})
	s.engine.EXPECT().Stop().Do(func() { close(stopped) })
	s.engine.EXPECT().PageCount().Return(2)

	c.Assert(s.service(c, false).Run(ctx), check.IsNil)
}
