package crawler

import (
	"sync"
	"time"

	"github.com/mycok/zhsearch/crawler/extract"
	"github.com/mycok/zhsearch/pipeline"
)

var (
	_ pipeline.Payload = (*crawlerPayload)(nil)

	payloadPool = sync.Pool{
		New: func() interface{} {
			return new(crawlerPayload)
		},
	}
)

type crawlerPayload struct {
	URL       string             // populated by the input source.
	FetchedAt time.Time          // populated by the fetcher.
	HTML      string             // populated by the fetcher, decoded to UTF-8.
	Encoding  string             // populated by the fetcher.
	Content   extract.Content    // populated by the extractor.
	Links     []extract.Link     // populated by the extractor.
	Downloads []extract.Download // populated by the extractor.
}

// Clone returns a deep-copy of the original payload.
func (p *crawlerPayload) Clone() pipeline.Payload {
	payloadClone := payloadPool.Get().(*crawlerPayload)

	payloadClone.URL = p.URL
	payloadClone.FetchedAt = p.FetchedAt
	payloadClone.HTML = p.HTML
	payloadClone.Encoding = p.Encoding
	payloadClone.Content = p.Content
	payloadClone.Links = append(payloadClone.Links[:0], p.Links...)
	payloadClone.Downloads = append(payloadClone.Downloads[:0], p.Downloads...)

	return payloadClone
}

// MarkAsProcessed is invoked when the payload either reaches the sink or is
// dropped by one of the stages.
func (p *crawlerPayload) MarkAsProcessed() {
	p.URL = p.URL[:0]
	p.FetchedAt = time.Time{}
	p.HTML = p.HTML[:0]
	p.Encoding = p.Encoding[:0]
	p.Content = extract.Content{}
	p.Links = p.Links[:0]
	p.Downloads = p.Downloads[:0]

	payloadPool.Put(p)
}
