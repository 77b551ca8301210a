package crawler

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mycok/zhsearch/crawler/charset"
	"github.com/mycok/zhsearch/pipeline"
)

const (
	// minContentLength is the shortest decoded page, in characters, worth
	// extracting.
	minContentLength = 10

	maxBodySize = 10 << 20
)

var (
	_ pipeline.Processor = (*fetcher)(nil)

	// Locate links that point to resources that don't serve html content.
	exclusionRegex = regexp.MustCompile(`(?i)\.(?:jpg|jpeg|png|gif|ico|svg|webp|css|js)$`)
)

// fetcher is the first stage of a batch. It claims a URL in the visited set,
// retrieves it and decodes the body to UTF-8. Any failure drops the payload.
type fetcher struct {
	getter      URLGetter
	netDetector PrivateNetworkDetector
	limiter     *rate.Limiter
	resolver    *charset.Resolver
	visited     *visitedSet
	userAgents  []string
	timeout     time.Duration
	clk         clock.Clock
	metrics     *metrics
	logger      *logrus.Entry
}

func (f *fetcher) Process(ctx context.Context, payload pipeline.Payload) (pipeline.Payload, error) {
	p, ok := payload.(*crawlerPayload)
	if !ok {
		return nil, nil
	}
	logger := f.logger.WithField("url", p.URL)

	if exclusionRegex.MatchString(p.URL) {
		return nil, nil
	}

	if f.netDetector != nil {
		isPrivate, err := f.isNetworkPrivate(p.URL)
		if err != nil || isPrivate {
			logger.WithField("err", err).Debug("skipping private or unresolvable host")
			return nil, nil
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, nil
		}
	}

	if !f.visited.markIfNew(p.URL) {
		return nil, nil
	}

	// A stop request must not abort a request that is already on the wire.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	raw, header, err := f.get(reqCtx, p.URL)
	if err != nil {
		f.metrics.fetchFailures.Inc()
		logger.WithField("err", err).Warn("fetch failed")
		return nil, nil
	}

	decoded := f.resolver.Decode(header, raw)
	if utf8.RuneCountInString(strings.TrimSpace(decoded.Text)) < minContentLength {
		f.metrics.fetchFailures.Inc()
		logger.Warn("page content empty or too short")
		return nil, nil
	}

	f.metrics.pagesFetched.Inc()
	logger.WithFields(logrus.Fields{
		"encoding": decoded.Encoding,
		"source":   decoded.Source,
	}).Debug("fetched page")

	p.FetchedAt = f.clk.Now().UTC()
	p.HTML = decoded.Text
	p.Encoding = decoded.Encoding

	return p, nil
}

func (f *fetcher) get(ctx context.Context, target string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, err
	}

	if len(f.userAgents) > 0 {
		req.Header.Set("User-Agent", f.userAgents[rand.Intn(len(f.userAgents))])
	}
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.getter.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return nil, nil, fmt.Errorf("unsupported content type %q", ct)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}

	return raw, resp.Header, nil
}

func (f *fetcher) isNetworkPrivate(urlStr string) (bool, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false, err
	}

	return f.netDetector.IsNetworkPrivate(u.Hostname())
}

// newHTTPGetter returns the default URLGetter.
func newHTTPGetter(timeout time.Duration, followRedirects bool) URLGetter {
	client := &http.Client{Timeout: timeout}
	if !followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client
}
