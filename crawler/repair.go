package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/mycok/zhsearch/crawler/charset"
	"github.com/mycok/zhsearch/crawler/extract"
	"github.com/mycok/zhsearch/pagestore/page"
)

// RepairReport summarizes a RepairEncodings pass.
type RepairReport struct {
	Checked int
	Fixed   int
	Failed  int
}

// RepairEncodings re-resolves the encoding of every stored page and rewrites
// the pages whose text was decoded with the wrong one. The stored HTML is
// turned back into its original bytes with the encoding it was decoded as,
// resolved again from its meta charset or content, and re-extracted. Pages
// whose new decoding still looks garbled are left alone.
//
// Only cfg.Store, the encoding and extraction settings and cfg.Logger are
// used.
func RepairEncodings(ctx context.Context, cfg Config) (RepairReport, error) {
	var report RepairReport

	if cfg.Store == nil {
		return report, fmt.Errorf("repair encodings: a page store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	extractor, err := extract.NewExtractor(cfg.selectors())
	if err != nil {
		return report, fmt.Errorf("repair encodings: %w", err)
	}
	resolver := charset.NewResolver(cfg.charsetConfig())

	fixes, err := collectRepairs(ctx, cfg.Store, resolver, extractor, cfg.Logger, &report)
	if err != nil {
		return report, err
	}
	if len(fixes) == 0 {
		cfg.Logger.WithField("checked", report.Checked).Info("no page needs an encoding repair")
		return report, nil
	}

	sess, err := cfg.Store.Session(ctx)
	if err != nil {
		return report, fmt.Errorf("repair encodings: %w", err)
	}

	for _, fix := range fixes {
		if err = ctx.Err(); err != nil {
			break
		}

		logger := cfg.Logger.WithFields(logrus.Fields{"url": fix.page.URL, "from": fix.from, "to": fix.page.Encoding})
		if sErr := sess.SavePage(ctx, fix.page); sErr != nil {
			report.Failed++
			logger.WithField("err", sErr).Error("failed to save repaired page")
			continue
		}
		// Saving replaces the row, so the score is written back.
		if fix.page.PageRank != 0 {
			if uErr := cfg.Store.UpdatePageRank(ctx, fix.page.URL, fix.page.PageRank); uErr != nil {
				logger.WithField("err", uErr).Warn("failed to restore page rank")
			}
		}

		report.Fixed++
		logger.Info("repaired page encoding")
	}

	if cErr := sess.Close(); cErr != nil {
		err = multierror.Append(err, cErr)
	}
	if err != nil {
		return report, fmt.Errorf("repair encodings: %w", err)
	}

	cfg.Logger.WithFields(logrus.Fields{
		"checked": report.Checked,
		"fixed":   report.Fixed,
		"failed":  report.Failed,
	}).Info("encoding repair completed")

	return report, nil
}

type repair struct {
	page *page.Page
	from string
}

// collectRepairs reads every page before any write so that the iterator is
// closed by the time pages are saved.
func collectRepairs(
	ctx context.Context,
	store page.Store,
	resolver *charset.Resolver,
	extractor *extract.Extractor,
	logger *logrus.Entry,
	report *RepairReport,
) ([]repair, error) {
	it, err := store.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("repair encodings: %w", err)
	}
	defer func() { _ = it.Close() }()

	var fixes []repair
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := it.Page()
		report.Checked++

		fixed, ok := redecode(p, resolver, extractor, logger)
		if ok {
			fixes = append(fixes, repair{page: fixed, from: p.Encoding})
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("repair encodings: %w", err)
	}

	return fixes, nil
}

// redecode returns a copy of p decoded with its resolved encoding, or false
// when the stored decoding already matches or cannot be improved.
func redecode(p *page.Page, resolver *charset.Resolver, extractor *extract.Extractor, logger *logrus.Entry) (*page.Page, bool) {
	current := charset.Canonical(p.Encoding)

	raw, err := charset.EncodeAs(current, p.HTML)
	if err != nil {
		logger.WithFields(logrus.Fields{"url": p.URL, "err": err}).Debug("stored html cannot be turned back into bytes")
		return nil, false
	}

	decoded := resolver.Decode(http.Header{}, raw)
	if decoded.Encoding == current || decoded.Text == p.HTML || charset.LooksGarbled(decoded.Text) {
		return nil, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(decoded.Text))
	if err != nil {
		logger.WithFields(logrus.Fields{"url": p.URL, "err": err}).Warn("failed to parse redecoded page")
		return nil, false
	}
	content := extractor.Extract(doc)

	fixed := *p
	fixed.HTML = decoded.Text
	fixed.Encoding = decoded.Encoding
	fixed.Title = content.Title
	fixed.Content = content.Body
	fixed.PublishTime = content.PublishTime
	fixed.Source = content.Source

	return &fixed, true
}
