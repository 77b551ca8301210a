package crawler

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/mycok/zhsearch/crawler/extract"
	"github.com/mycok/zhsearch/pipeline"
)

var _ pipeline.Processor = (*parser)(nil)

// parser parses the decoded page and extracts its content, followable links
// and download references.
type parser struct {
	extractor *extract.Extractor
	rules     *extract.LinkRules
	logger    *logrus.Entry
}

func (p *parser) Process(_ context.Context, payload pipeline.Payload) (pipeline.Payload, error) {
	cPayload, ok := payload.(*crawlerPayload)
	if !ok {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cPayload.HTML))
	if err != nil {
		p.logger.WithFields(logrus.Fields{"url": cPayload.URL, "err": err}).Warn("unable to parse page")
		return nil, nil
	}

	// Removal selectors run first and mutate doc, so links inside removed
	// subtrees are not followed.
	cPayload.Content = p.extractor.Extract(doc)
	cPayload.Links, cPayload.Downloads = p.extractor.ExtractLinks(doc, cPayload.URL, p.rules)

	return cPayload, nil
}
