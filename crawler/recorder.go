package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/mycok/zhsearch/crawler/progress"
	"github.com/mycok/zhsearch/linkgraph"
	"github.com/mycok/zhsearch/pagestore/page"
	"github.com/mycok/zhsearch/pipeline"
)

// sampleEvery is the number of saved pages between two raw HTML samples.
const sampleEvery = 50

var _ pipeline.Processor = (*recorder)(nil)

// pageCounter counts the pages saved by a crawl. It never decreases while a
// crawl is running.
type pageCounter struct {
	mu sync.Mutex
	n  int
}

func (c *pageCounter) inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.n++
	return c.n
}

func (c *pageCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.n
}

func (c *pageCounter) set(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.n = n
}

// recorder is the last stage of a batch. Each worker owns one recorder and
// therefore one store session. Persistence failures are logged and never
// fail the batch.
type recorder struct {
	session  page.Session
	graph    *linkgraph.LinkGraph
	pages    *pageCounter
	maxPages int
	progress progress.Emitter
	out      *artifacts
	clk      clock.Clock
	metrics  *metrics
	logger   *logrus.Entry
}

func (r *recorder) Process(ctx context.Context, payload pipeline.Payload) (pipeline.Payload, error) {
	p, ok := payload.(*crawlerPayload)
	if !ok {
		return nil, nil
	}

	// Writes for a page that made it this far complete even when the batch
	// is being stopped.
	ctx = context.WithoutCancel(ctx)
	logger := r.logger.WithField("url", p.URL)
	now := r.clk.Now().UTC()

	if p.Content.Acceptable() {
		r.savePage(ctx, p, now, logger)
	} else {
		logger.WithField("title", p.Content.Title).Warn("page title or content unusable, not saving")
	}

	for _, link := range p.Links {
		err := r.session.SaveLink(ctx, &page.Link{
			FromURL:    p.URL,
			ToURL:      link.URL,
			AnchorText: link.AnchorText,
			CrawledAt:  now,
		})
		if err != nil {
			logger.WithFields(logrus.Fields{"to": link.URL, "err": err}).Error("failed to save link")
		}

		// The graph tracks every accepted link even when the row write failed.
		if err := r.graph.AddEdge(p.URL, link.URL); err != nil {
			logger.WithFields(logrus.Fields{"to": link.URL, "err": err}).Error("failed to add graph edge")
		}
	}
	r.metrics.linksDiscovered.Add(float64(len(p.Links)))

	for _, d := range p.Downloads {
		ref := &page.Download{
			URL:       d.URL,
			Filename:  d.Filename,
			Title:     d.Title,
			FileType:  d.FileType,
			CrawledAt: now,
		}

		id, _, err := r.session.SaveDownload(ctx, ref)
		if err != nil {
			logger.WithFields(logrus.Fields{"download": d.URL, "err": err}).Error("failed to save download")
			continue
		}
		ref.ID = id

		if err := r.out.writeDownload(ref); err != nil {
			logger.WithFields(logrus.Fields{"download": d.URL, "err": err}).Warn("failed to write download file")
		}
	}

	return p, nil
}

func (r *recorder) savePage(ctx context.Context, p *crawlerPayload, now time.Time, logger *logrus.Entry) {
	err := r.session.SavePage(ctx, &page.Page{
		URL:         p.URL,
		Title:       p.Content.Title,
		Content:     p.Content.Body,
		HTML:        p.HTML,
		Encoding:    p.Encoding,
		PublishTime: p.Content.PublishTime,
		Source:      p.Content.Source,
		CrawledAt:   now,
	})
	if err != nil {
		logger.WithField("err", err).Error("failed to save page")
		return
	}

	if err := r.graph.AddNode(p.URL); err != nil {
		logger.WithField("err", err).Error("failed to add graph node")
	}

	count := r.pages.inc()
	r.metrics.pagesSaved.Inc()
	logger.WithFields(logrus.Fields{"title": p.Content.Title, "page_count": count}).Info("saved page")

	emit(r.progress, logger, progress.ProgressUpdate, map[string]interface{}{
		"page_count": count,
		"max_pages":  r.maxPages,
		"url":        p.URL,
		"title":      p.Content.Title,
	})

	if count%sampleEvery == 0 {
		if err := r.out.writeSample(count, p.HTML); err != nil {
			logger.WithField("err", err).Warn("failed to write page sample")
		}
	}
}

// Close releases the worker's store session.
func (r *recorder) Close() error {
	return r.session.Close()
}

// emit publishes an event when an emitter is configured. Failures are
// logged only.
func emit(e progress.Emitter, logger *logrus.Entry, t progress.Type, data map[string]interface{}) {
	if e == nil {
		return
	}

	if err := e.Emit(t, data); err != nil {
		logger.WithFields(logrus.Fields{"event": t, "err": err}).Warn("failed to emit progress event")
	}
}
