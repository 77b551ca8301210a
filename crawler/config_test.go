package crawler

import (
	"os"
	"path/filepath"
	"time"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(new(configTestSuite))

type configTestSuite struct{}

func (s *configTestSuite) TestLoadConfigKeepsDefaults(c *check.C) {
	path := writeConfig(c, `{
		"start_urls": ["https://news.example.cn/"],
		"base_url": "https://news.example.cn",
		"max_pages": 500,
		"crawl_settings": {"max_concurrent_requests": 8, "random_delay": false},
		"content_extraction": {"content_selectors": ["div.article", "#content"]},
		"encoding_settings": {"force_encoding": "gbk"}
	}`)

	cfg, err := LoadConfig(path)
	c.Assert(err, check.IsNil)

	c.Assert(cfg.StartURLs, check.DeepEquals, []string{"https://news.example.cn/"})
	c.Assert(cfg.MaxPages, check.Equals, 500)
	c.Assert(cfg.Iterations, check.Equals, 10)
	c.Assert(cfg.requestTimeout(), check.Equals, 10*time.Second)
	c.Assert(cfg.CrawlSettings.MaxConcurrentRequests, check.Equals, 8)
	c.Assert(cfg.CrawlSettings.RandomDelay, check.Equals, false)
	c.Assert(cfg.CrawlSettings.FollowRedirects, check.Equals, true)
	c.Assert(cfg.CrawlSettings.DelayBetweenRequests, check.Equals, 2.0)
	c.Assert(cfg.ContentExtraction.ContentSelectors, check.DeepEquals, []string{"div.article", "#content"})
	c.Assert(cfg.EncodingSettings.ForceEncoding, check.Equals, "gbk")
	c.Assert(cfg.EncodingSettings.DetectEncoding, check.Equals, true)
	c.Assert(cfg.ExcludePatterns, check.HasLen, 5)
	c.Assert(cfg.DownloadTypes, check.HasLen, 10)
	c.Assert(cfg.UserAgentList, check.DeepEquals, DefaultUserAgents)
	c.Assert(cfg.Storage.DSN, check.Equals, "sqlite://crawler_output/crawler.db")
}

func (s *configTestSuite) TestEnvOverridesFile(c *check.C) {
	path := writeConfig(c, `{"start_urls": ["https://news.example.cn/"], "max_pages": 50}`)

	c.Assert(os.Setenv("ZHSEARCH_MAX_PAGES", "7"), check.IsNil)
	c.Assert(os.Setenv("ZHSEARCH_STORAGE_DSN", "memory://"), check.IsNil)
	defer func() {
		_ = os.Unsetenv("ZHSEARCH_MAX_PAGES")
		_ = os.Unsetenv("ZHSEARCH_STORAGE_DSN")
	}()

	cfg, err := LoadConfig(path)
	c.Assert(err, check.IsNil)
	c.Assert(cfg.MaxPages, check.Equals, 7)
	c.Assert(cfg.Storage.DSN, check.Equals, "memory://")
}

func (s *configTestSuite) TestValidationAggregatesErrors(c *check.C) {
	path := writeConfig(c, `{
		"start_urls": ["not a url"],
		"max_pages": -1,
		"crawl_settings": {"delay_variance": 2, "max_concurrent_requests": -3}
	}`)

	_, err := LoadConfig(path)
	c.Assert(err, check.ErrorMatches, `(?s)crawl config validation failed: 4 errors occurred.*`)
}

func (s *configTestSuite) TestMissingStartURLs(c *check.C) {
	cfg := DefaultConfig()
	err := cfg.validate()
	c.Assert(err, check.ErrorMatches, `(?s).*at least one start URL must be provided.*`)
}

func (s *configTestSuite) TestMissingFile(c *check.C) {
	_, err := LoadConfig(filepath.Join(c.MkDir(), "missing.json"))
	c.Assert(err, check.ErrorMatches, "read crawl config: .*")
}

func writeConfig(c *check.C, body string) string {
	path := filepath.Join(c.MkDir(), "crawler.json")
	c.Assert(os.WriteFile(path, []byte(body), 0o644), check.IsNil)

	return path
}
