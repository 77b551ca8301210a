package crawler

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/mycok/zhsearch/crawler/charset"
	"github.com/mycok/zhsearch/crawler/extract"
	"github.com/mycok/zhsearch/crawler/progress"
	"github.com/mycok/zhsearch/pagestore/page"
)

// EnvPrefix prefixes the environment variables that override config keys,
// e.g. ZHSEARCH_MAX_PAGES.
const EnvPrefix = "ZHSEARCH"

// CrawlSettings tune the request behaviour of a crawl.
type CrawlSettings struct {
	// DelayBetweenRequests is the base delay in seconds applied before each
	// batch when RandomDelay is set.
	DelayBetweenRequests float64 `mapstructure:"delay_between_requests" json:"delay_between_requests"`

	// MaxConcurrentRequests sizes the fetch and record worker pools.
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests" json:"max_concurrent_requests"`

	FollowRedirects bool `mapstructure:"follow_redirects" json:"follow_redirects"`

	// MaxDepth is accepted for compatibility. Crawl depth is bounded by
	// Config.Iterations.
	MaxDepth int `mapstructure:"max_depth" json:"max_depth"`

	RandomDelay   bool    `mapstructure:"random_delay" json:"random_delay"`
	DelayVariance float64 `mapstructure:"delay_variance" json:"delay_variance"`

	// RequestsPerSecond throttles fetches across all workers. Zero disables
	// throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`

	// BlockPrivateNetworks drops URLs whose host resolves to a private
	// address.
	BlockPrivateNetworks bool `mapstructure:"block_private_networks" json:"block_private_networks"`
}

// ContentExtraction lists the ordered selectors used per field.
type ContentExtraction struct {
	TitleSelectors   []string `mapstructure:"title_selectors" json:"title_selectors"`
	ContentSelectors []string `mapstructure:"content_selectors" json:"content_selectors"`
	TimeSelectors    []string `mapstructure:"time_selectors" json:"time_selectors"`
	SourceSelectors  []string `mapstructure:"source_selectors" json:"source_selectors"`
	RemoveSelectors  []string `mapstructure:"remove_selectors" json:"remove_selectors"`
}

// EncodingSettings configure the encoding resolver.
type EncodingSettings struct {
	DefaultEncoding   string   `mapstructure:"default_encoding" json:"default_encoding"`
	FallbackEncodings []string `mapstructure:"fallback_encodings" json:"fallback_encodings"`
	DetectEncoding    bool     `mapstructure:"detect_encoding" json:"detect_encoding"`
	ForceEncoding     string   `mapstructure:"force_encoding" json:"force_encoding"`
	UseMetaCharset    bool     `mapstructure:"use_meta_charset" json:"use_meta_charset"`
}

// StorageSettings select the page store backend.
type StorageSettings struct {
	// DSN is one of memory://, sqlite://<path> or postgresql://...
	DSN string `mapstructure:"dsn" json:"dsn"`
}

// Config encapsulates the settings for a crawl Engine. The tagged fields are
// loaded from the crawl config file; the remaining fields are wired in code.
type Config struct {
	StartURLs  []string `mapstructure:"start_urls" json:"start_urls"`
	BaseURL    string   `mapstructure:"base_url" json:"base_url"`
	MaxPages   int      `mapstructure:"max_pages" json:"max_pages"`
	Iterations int      `mapstructure:"iterations" json:"iterations"`

	// Timeout is the per-request timeout in seconds.
	Timeout   float64 `mapstructure:"timeout" json:"timeout"`
	OutputDir string  `mapstructure:"output_dir" json:"output_dir"`

	CrawlSettings     CrawlSettings     `mapstructure:"crawl_settings" json:"crawl_settings"`
	ExcludePatterns   []string          `mapstructure:"exclude_patterns" json:"exclude_patterns"`
	DownloadTypes     []string          `mapstructure:"download_types" json:"download_types"`
	ContentExtraction ContentExtraction `mapstructure:"content_extraction" json:"content_extraction"`
	EncodingSettings  EncodingSettings  `mapstructure:"encoding_settings" json:"encoding_settings"`
	UserAgentList     []string          `mapstructure:"user_agent_list" json:"user_agent_list"`
	Storage           StorageSettings   `mapstructure:"storage" json:"storage"`

	// Store persists pages, links and downloads.
	Store page.Store `mapstructure:"-" json:"-"`

	// Progress receives lifecycle events. Optional.
	Progress progress.Emitter `mapstructure:"-" json:"-"`

	// URLGetter performs the HTTP requests. Defaults to an http.Client
	// honouring Timeout and FollowRedirects.
	URLGetter URLGetter `mapstructure:"-" json:"-"`

	// NetDetector is consulted when BlockPrivateNetworks is set.
	NetDetector PrivateNetworkDetector `mapstructure:"-" json:"-"`

	// StateStore persists the frontier on stop. Defaults to a file store
	// under OutputDir.
	StateStore StateStore `mapstructure:"-" json:"-"`

	// Detector overrides the statistical charset detector.
	Detector charset.Detector `mapstructure:"-" json:"-"`

	// Registerer receives the crawl metrics. Defaults to a private registry.
	Registerer prometheus.Registerer `mapstructure:"-" json:"-"`

	Clock  clock.Clock   `mapstructure:"-" json:"-"`
	Logger *logrus.Entry `mapstructure:"-" json:"-"`
}

// DefaultUserAgents are sent when the config lists none.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.127 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/101.0.4951.67 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.4 Safari/605.1.15",
}

// DefaultConfig returns a Config populated with the default settings.
func DefaultConfig() Config {
	return Config{
		MaxPages:   100,
		Iterations: 10,
		Timeout:    10,
		OutputDir:  "crawler_output",
		CrawlSettings: CrawlSettings{
			DelayBetweenRequests:  2.0,
			MaxConcurrentRequests: 5,
			FollowRedirects:       true,
			MaxDepth:              8,
			RandomDelay:           true,
			DelayVariance:         0.5,
		},
		ExcludePatterns: []string{"/login", "/logout", "/search", "javascript:", "mailto:"},
		DownloadTypes:   []string{"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "txt", "zip", "rar"},
		EncodingSettings: EncodingSettings{
			DefaultEncoding:   charset.DefaultEncoding,
			FallbackEncodings: append([]string(nil), charset.DefaultFallbackEncodings...),
			DetectEncoding:    true,
			UseMetaCharset:    true,
		},
		UserAgentList: append([]string(nil), DefaultUserAgents...),
		Storage:       StorageSettings{DSN: "sqlite://crawler_output/crawler.db"},
	}
}

// LoadConfig reads a JSON crawl config on top of DefaultConfig. Keys absent
// from the file keep their default; ZHSEARCH_* variables override both.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read crawl config: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode crawl config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("crawl config validation failed: %w", err)
	}

	return cfg, nil
}

// bindDefaults registers the scalar keys so env overrides apply even when
// the file omits them.
func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("base_url", cfg.BaseURL)
	v.SetDefault("max_pages", cfg.MaxPages)
	v.SetDefault("iterations", cfg.Iterations)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("crawl_settings.delay_between_requests", cfg.CrawlSettings.DelayBetweenRequests)
	v.SetDefault("crawl_settings.max_concurrent_requests", cfg.CrawlSettings.MaxConcurrentRequests)
	v.SetDefault("crawl_settings.follow_redirects", cfg.CrawlSettings.FollowRedirects)
	v.SetDefault("crawl_settings.max_depth", cfg.CrawlSettings.MaxDepth)
	v.SetDefault("crawl_settings.random_delay", cfg.CrawlSettings.RandomDelay)
	v.SetDefault("crawl_settings.delay_variance", cfg.CrawlSettings.DelayVariance)
	v.SetDefault("crawl_settings.requests_per_second", cfg.CrawlSettings.RequestsPerSecond)
	v.SetDefault("crawl_settings.block_private_networks", cfg.CrawlSettings.BlockPrivateNetworks)
	v.SetDefault("encoding_settings.default_encoding", cfg.EncodingSettings.DefaultEncoding)
	v.SetDefault("encoding_settings.detect_encoding", cfg.EncodingSettings.DetectEncoding)
	v.SetDefault("encoding_settings.force_encoding", cfg.EncodingSettings.ForceEncoding)
	v.SetDefault("encoding_settings.use_meta_charset", cfg.EncodingSettings.UseMetaCharset)
	v.SetDefault("storage.dsn", cfg.Storage.DSN)
}

func (cfg *Config) validate() error {
	var err error

	if len(cfg.StartURLs) == 0 {
		err = multierror.Append(err, fmt.Errorf("at least one start URL must be provided"))
	}
	for _, u := range cfg.StartURLs {
		if parsed, pErr := url.Parse(u); pErr != nil || parsed.Host == "" {
			err = multierror.Append(err, fmt.Errorf("invalid start URL %q", u))
		}
	}
	if cfg.BaseURL != "" {
		if _, pErr := url.Parse(cfg.BaseURL); pErr != nil {
			err = multierror.Append(err, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, pErr))
		}
	}

	if cfg.MaxPages == 0 {
		cfg.MaxPages = 100
	} else if cfg.MaxPages < 0 {
		err = multierror.Append(err, fmt.Errorf("max pages must be positive"))
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = 10
	} else if cfg.Iterations < 0 {
		err = multierror.Append(err, fmt.Errorf("iterations must be positive"))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10
	} else if cfg.Timeout < 0 {
		err = multierror.Append(err, fmt.Errorf("timeout must be positive"))
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "crawler_output"
	}

	cs := &cfg.CrawlSettings
	if cs.MaxConcurrentRequests == 0 {
		cs.MaxConcurrentRequests = 5
	} else if cs.MaxConcurrentRequests < 0 {
		err = multierror.Append(err, fmt.Errorf("max concurrent requests must be positive"))
	}
	if cs.DelayBetweenRequests < 0 {
		err = multierror.Append(err, fmt.Errorf("delay between requests must not be negative"))
	}
	if cs.DelayVariance < 0 || cs.DelayVariance > 1 {
		err = multierror.Append(err, fmt.Errorf("delay variance must be within [0, 1]"))
	}
	if cs.RequestsPerSecond < 0 {
		err = multierror.Append(err, fmt.Errorf("requests per second must not be negative"))
	}

	if cfg.EncodingSettings.DefaultEncoding == "" {
		cfg.EncodingSettings.DefaultEncoding = charset.DefaultEncoding
	}
	if len(cfg.UserAgentList) == 0 {
		cfg.UserAgentList = append([]string(nil), DefaultUserAgents...)
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

func (cfg *Config) requestTimeout() time.Duration {
	return time.Duration(cfg.Timeout * float64(time.Second))
}

func (cfg *Config) selectors() extract.Selectors {
	ce := cfg.ContentExtraction

	return extract.Selectors{
		Title:   ce.TitleSelectors,
		Content: ce.ContentSelectors,
		Time:    ce.TimeSelectors,
		Source:  ce.SourceSelectors,
		Remove:  ce.RemoveSelectors,
	}
}

func (cfg *Config) charsetConfig() charset.Config {
	es := cfg.EncodingSettings

	return charset.Config{
		DefaultEncoding:   es.DefaultEncoding,
		FallbackEncodings: es.FallbackEncodings,
		DetectEncoding:    es.DetectEncoding,
		ForceEncoding:     es.ForceEncoding,
		UseMetaCharset:    es.UseMetaCharset,
		Detector:          cfg.Detector,
	}
}
