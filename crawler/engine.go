/*
Package crawler implements a resumable, batch oriented web crawler. Each
batch of URLs runs through a pipeline made of the following stages:
 1. fetch: claim the URL in the visited set, retrieve the page and decode it
    to UTF-8.
 2. parse: extract the page title, body, publish time and source together
    with its followable links and download references.
 3. record: persist the page, its links and downloads using a store session
    owned by the worker, and update the link graph.

Batches are barriers: the frontier of batch N+1 is formed from the links
discovered by batch N once all of its pages have been processed. When the
crawl completes the engine computes PageRank over the accumulated link graph
and exports summary statistics.
*/
package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mycok/zhsearch/crawler/charset"
	"github.com/mycok/zhsearch/crawler/extract"
	"github.com/mycok/zhsearch/crawler/privnet"
	"github.com/mycok/zhsearch/crawler/progress"
	"github.com/mycok/zhsearch/linkgraph"
	"github.com/mycok/zhsearch/pagerank"
	"github.com/mycok/zhsearch/pipeline"
)

const topScoresLogged = 10

var (
	// ErrStopped is returned by Crawl and Resume when the crawl was paused
	// by a call to Stop.
	ErrStopped = errors.New("crawl stopped")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current engine state.
	ErrInvalidState = errors.New("invalid crawl engine state")
)

// State is the lifecycle state of an Engine.
type State int

// The engine states.
const (
	Idle State = iota
	Initializing
	Running
	Paused
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine crawls pages in batches and records them in a page store.
type Engine struct {
	cfg     Config
	logger  *logrus.Entry
	graph   *linkgraph.LinkGraph
	visited *visitedSet
	pages   *pageCounter
	states  StateStore
	out     *artifacts
	metrics *metrics
	pipe    *pipeline.Pipeline

	mu            sync.Mutex
	state         State
	stopRequested bool
	cancelRun     context.CancelFunc
}

// New returns an Engine configured by cfg.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("crawler config validation failed: %w", err)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("crawler config validation failed: a page store is required")
	}

	extractor, err := extract.NewExtractor(cfg.selectors())
	if err != nil {
		return nil, fmt.Errorf("content extraction: %w", err)
	}

	rules, err := extract.NewLinkRules(cfg.BaseURL, cfg.ExcludePatterns, cfg.DownloadTypes)
	if err != nil {
		return nil, fmt.Errorf("link rules: %w", err)
	}

	if cfg.CrawlSettings.BlockPrivateNetworks && cfg.NetDetector == nil {
		if cfg.NetDetector, err = privnet.NewDetector(); err != nil {
			return nil, fmt.Errorf("private network detector: %w", err)
		}
	}
	if !cfg.CrawlSettings.BlockPrivateNetworks {
		cfg.NetDetector = nil
	}
	rules.NetDetector = cfg.NetDetector

	if cfg.URLGetter == nil {
		cfg.URLGetter = newHTTPGetter(cfg.requestTimeout(), cfg.CrawlSettings.FollowRedirects)
	}
	if cfg.StateStore == nil {
		cfg.StateStore = NewFileStateStore(cfg.OutputDir)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  cfg.Logger,
		graph:   linkgraph.New(nil),
		visited: newVisitedSet(),
		pages:   new(pageCounter),
		states:  cfg.StateStore,
		out:     &artifacts{dir: cfg.OutputDir},
		metrics: newMetrics(cfg.Registerer),
	}

	var limiter *rate.Limiter
	if rps := cfg.CrawlSettings.RequestsPerSecond; rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	workers := cfg.CrawlSettings.MaxConcurrentRequests
	e.pipe = pipeline.New(
		pipeline.NewFixedWorkerPool(&fetcher{
			getter:      cfg.URLGetter,
			netDetector: cfg.NetDetector,
			limiter:     limiter,
			resolver:    charset.NewResolver(cfg.charsetConfig()),
			visited:     e.visited,
			userAgents:  cfg.UserAgentList,
			timeout:     cfg.requestTimeout(),
			clk:         cfg.Clock,
			metrics:     e.metrics,
			logger:      e.logger,
		}, workers),
		pipeline.NewDynamicWorkerPool(&parser{
			extractor: extractor,
			rules:     rules,
			logger:    e.logger,
		}, workers),
		pipeline.NewPerWorkerPool(e.newRecorder, workers),
	)

	return e, nil
}

func (e *Engine) newRecorder(ctx context.Context, worker int) (pipeline.Processor, error) {
	sess, err := e.cfg.Store.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store session: %w", err)
	}

	return &recorder{
		session:  sess,
		graph:    e.graph,
		pages:    e.pages,
		maxPages: e.cfg.MaxPages,
		progress: e.cfg.Progress,
		out:      e.out,
		clk:      e.cfg.Clock,
		metrics:  e.metrics,
		logger:   e.logger.WithField("worker", worker),
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// PageCount returns the number of pages saved so far.
func (e *Engine) PageCount() int {
	return e.pages.get()
}

// Initialize removes the artifacts of a previous crawl, including any saved
// frontier state, and resets the in-memory crawl state. It may be called any
// number of times while no crawl is in progress.
func (e *Engine) Initialize(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Initializing || e.state == Running {
		return fmt.Errorf("%w: cannot initialize while %s", ErrInvalidState, e.state)
	}

	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := e.out.clear(); err != nil {
		return fmt.Errorf("clear output artifacts: %w", err)
	}
	if err := e.states.Clear(); err != nil {
		return err
	}
	if err := e.graph.Reset(); err != nil {
		return fmt.Errorf("reset link graph: %w", err)
	}

	e.visited.replace(nil)
	e.pages.set(0)
	e.stopRequested = false
	e.state = Idle

	return nil
}

// Crawl crawls from startURLs, or from the configured start URLs when none
// are given. It blocks until the crawl completes, fails or is stopped, in
// which case ErrStopped is returned.
func (e *Engine) Crawl(ctx context.Context, startURLs []string) error {
	runCtx, err := e.begin(ctx, Idle)
	if err != nil {
		return err
	}
	defer e.end()

	return e.crawlFrom(runCtx, startURLs)
}

// Resume continues a stopped crawl from its saved frontier. Without a saved
// paused state it starts a fresh crawl from startURLs.
func (e *Engine) Resume(ctx context.Context, startURLs []string) error {
	runCtx, err := e.begin(ctx, Idle, Paused)
	if err != nil {
		return err
	}
	defer e.end()

	state, err := e.states.Load()
	if errors.Is(err, ErrNoState) || (err == nil && !state.IsPaused) {
		e.logger.Info("no paused crawl to resume, starting a new crawl")
		return e.crawlFrom(runCtx, startURLs)
	} else if err != nil {
		return e.fail(err)
	}

	e.visited.replace(state.URLsTaken)
	if state.PageCount > e.pages.get() {
		e.pages.set(state.PageCount)
	}
	if err := e.replayGraph(runCtx); err != nil {
		return e.fail(err)
	}

	e.logger.WithFields(logrus.Fields{
		"iteration":  state.CurrentIteration,
		"page_count": state.PageCount,
		"pending":    len(state.PendingURLs),
	}).Info("resuming crawl")
	emit(e.cfg.Progress, e.logger, progress.CrawlResumed, map[string]interface{}{
		"iteration":  state.CurrentIteration,
		"page_count": e.pages.get(),
		"pending":    len(state.PendingURLs),
	})

	e.setState(Running)

	return e.run(runCtx, state.PendingURLs, state.CurrentIteration)
}

// replayGraph loads the stored pages and links into the link graph so that a
// crawl resumed by a fresh engine ranks the whole crawl and not only the
// pages fetched after the restart.
func (e *Engine) replayGraph(ctx context.Context) error {
	pages, err := e.cfg.Store.Pages(ctx)
	if err != nil {
		return fmt.Errorf("replay link graph: %w", err)
	}
	for pages.Next() {
		if err := e.graph.AddNode(pages.Page().URL); err != nil {
			_ = pages.Close()
			return fmt.Errorf("replay link graph: %w", err)
		}
	}
	if err := pages.Error(); err != nil {
		_ = pages.Close()
		return fmt.Errorf("replay link graph: %w", err)
	}
	if err := pages.Close(); err != nil {
		return fmt.Errorf("replay link graph: %w", err)
	}

	links, err := e.cfg.Store.Links(ctx)
	if err != nil {
		return fmt.Errorf("replay link graph: %w", err)
	}
	defer func() { _ = links.Close() }()
	for links.Next() {
		l := links.Link()
		if err := e.graph.AddEdge(l.FromURL, l.ToURL); err != nil {
			return fmt.Errorf("replay link graph: %w", err)
		}
	}
	if err := links.Error(); err != nil {
		return fmt.Errorf("replay link graph: %w", err)
	}

	if nodes, edges, err := e.graph.Counts(); err == nil {
		e.logger.WithFields(logrus.Fields{"nodes": nodes, "edges": edges}).Debug("link graph restored")
	}

	return nil
}

// Stop asks a running crawl to pause. Requests already on the wire are
// allowed to finish; everything else in the current batch is dropped. Stop
// is a no-op when no crawl is running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Initializing && e.state != Running {
		return
	}

	e.logger.Info("stop requested")
	e.stopRequested = true
	if e.cancelRun != nil {
		e.cancelRun()
	}
}

func (e *Engine) begin(ctx context.Context, allowed ...State) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok := false
	for _, s := range allowed {
		ok = ok || e.state == s
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot start a crawl while %s", ErrInvalidState, e.state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel
	e.stopRequested = false
	e.state = Initializing

	return runCtx, nil
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelRun != nil {
		e.cancelRun()
		e.cancelRun = nil
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) stopping(runCtx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stopRequested || runCtx.Err() != nil
}

func (e *Engine) crawlFrom(runCtx context.Context, startURLs []string) error {
	if len(startURLs) == 0 {
		startURLs = e.cfg.StartURLs
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return e.fail(fmt.Errorf("create output dir: %w", err))
	}

	e.logger.WithFields(logrus.Fields{
		"start_urls": len(startURLs),
		"max_pages":  e.cfg.MaxPages,
		"iterations": e.cfg.Iterations,
	}).Info("starting crawl")
	emit(e.cfg.Progress, e.logger, progress.CrawlStarted, map[string]interface{}{
		"start_urls": startURLs,
		"max_pages":  e.cfg.MaxPages,
		"iterations": e.cfg.Iterations,
	})

	e.setState(Running)

	return e.run(runCtx, e.visited.unvisited(startURLs), 0)
}

func (e *Engine) run(runCtx context.Context, frontier []string, iteration int) error {
	for ; iteration < e.cfg.Iterations; iteration++ {
		if e.stopping(runCtx) {
			return e.pause(frontier, iteration)
		}

		count := e.pages.get()
		if len(frontier) == 0 || count >= e.cfg.MaxPages {
			break
		}

		batch := frontier
		if remaining := e.cfg.MaxPages - count; len(batch) > remaining {
			batch = batch[:remaining]
		}

		logger := e.logger.WithFields(logrus.Fields{
			"iteration": iteration + 1,
			"of":        e.cfg.Iterations,
			"batch":     len(batch),
		})
		logger.Info("starting batch")

		if e.cfg.CrawlSettings.RandomDelay && !e.sleep(runCtx, e.batchDelay()) {
			return e.pause(frontier, iteration)
		}

		discovered, err := e.crawlBatch(runCtx, batch)
		if e.stopping(runCtx) {
			return e.pause(frontier, iteration)
		}
		if err != nil {
			return e.fail(fmt.Errorf("iteration %d: %w", iteration+1, err))
		}

		sort.Strings(discovered)
		frontier = e.visited.unvisited(discovered)

		logger.WithFields(logrus.Fields{
			"page_count": e.pages.get(),
			"new_urls":   len(frontier),
		}).Info("batch complete")
		emit(e.cfg.Progress, e.logger, progress.IterationUpdate, map[string]interface{}{
			"iteration":        iteration + 1,
			"total_iterations": e.cfg.Iterations,
			"batch_size":       len(batch),
			"new_urls":         len(frontier),
			"page_count":       e.pages.get(),
		})
	}

	// Completion runs to the end even if a stop arrives meanwhile.
	return e.complete(context.WithoutCancel(runCtx))
}

func (e *Engine) crawlBatch(runCtx context.Context, batch []string) ([]string, error) {
	start := e.cfg.Clock.Now()
	sink := newFrontierSink()

	err := e.pipe.Execute(runCtx, newURLSource(batch), sink)
	e.metrics.batchDuration.Observe(e.cfg.Clock.Now().Sub(start).Seconds())

	return sink.urls(), err
}

// batchDelay returns delay·(1+u) with u drawn uniformly from
// [-variance, variance].
func (e *Engine) batchDelay() time.Duration {
	cs := e.cfg.CrawlSettings
	factor := 1 + (rand.Float64()*2-1)*cs.DelayVariance

	return time.Duration(cs.DelayBetweenRequests * factor * float64(time.Second))
}

// sleep waits for d and reports false if the crawl is stopped meanwhile.
func (e *Engine) sleep(runCtx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	select {
	case <-e.cfg.Clock.After(d):
		return true
	case <-runCtx.Done():
		return false
	}
}

func (e *Engine) pause(frontier []string, iteration int) error {
	state := &FrontierState{
		PendingURLs:      e.visited.unvisited(frontier),
		CurrentIteration: iteration,
		PageCount:        e.pages.get(),
		URLsTaken:        e.visited.sorted(),
		IsPaused:         true,
		Timestamp:        e.cfg.Clock.Now().UTC(),
	}

	if err := e.states.Save(state); err != nil {
		return e.fail(err)
	}

	e.logger.WithFields(logrus.Fields{
		"iteration":  iteration,
		"page_count": state.PageCount,
		"pending":    len(state.PendingURLs),
	}).Info("crawl paused")
	emit(e.cfg.Progress, e.logger, progress.CrawlStopped, map[string]interface{}{
		"iteration":  iteration,
		"page_count": state.PageCount,
		"pending":    len(state.PendingURLs),
	})

	e.setState(Paused)

	return ErrStopped
}

func (e *Engine) complete(ctx context.Context) error {
	e.logger.Info("computing pagerank")

	scores, err := e.graph.Compute(ctx, pagerank.Config{
		ComputeWorkers: e.cfg.CrawlSettings.MaxConcurrentRequests,
	})
	if err != nil {
		return e.fail(err)
	}

	for url, score := range scores {
		if err := e.cfg.Store.UpdatePageRank(ctx, url, score); err != nil {
			return e.fail(err)
		}
	}
	if err := e.out.writePageRank(scores); err != nil {
		return e.fail(err)
	}
	e.logTopScores(scores)

	if err := e.states.Clear(); err != nil {
		return e.fail(err)
	}

	stats, err := e.cfg.Store.Stats(ctx)
	if err != nil {
		return e.fail(fmt.Errorf("collect crawl stats: %w", err))
	}
	summary, err := e.out.writeStats(stats, e.cfg.Clock.Now())
	if err != nil {
		return e.fail(err)
	}

	e.logger.WithFields(logrus.Fields{
		"page_count":      e.pages.get(),
		"total_pages":     summary.TotalPages,
		"total_links":     summary.TotalLinks,
		"total_downloads": summary.TotalDownloads,
	}).Info("crawl completed")
	emit(e.cfg.Progress, e.logger, progress.CrawlCompleted, map[string]interface{}{
		"page_count": e.pages.get(),
	})

	e.setState(Completed)

	return nil
}

func (e *Engine) logTopScores(scores map[string]float64) {
	urls := make([]string, 0, len(scores))
	for u := range scores {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool {
		if scores[urls[i]] != scores[urls[j]] {
			return scores[urls[i]] > scores[urls[j]]
		}
		return urls[i] < urls[j]
	})

	if len(urls) > topScoresLogged {
		urls = urls[:topScoresLogged]
	}
	for rank, u := range urls {
		e.logger.WithFields(logrus.Fields{
			"rank":  rank + 1,
			"url":   u,
			"score": scores[u],
		}).Info("top pagerank")
	}
}

func (e *Engine) fail(err error) error {
	e.logger.WithField("err", err).Error("crawl failed")
	emit(e.cfg.Progress, e.logger, progress.Error, map[string]interface{}{
		"message": err.Error(),
	})
	e.setState(Failed)

	return err
}
