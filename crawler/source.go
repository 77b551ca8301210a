package crawler

import (
	"context"

	"github.com/mycok/zhsearch/pipeline"
)

var _ pipeline.Source = (*urlSource)(nil)

// urlSource emits one payload per URL of a batch.
type urlSource struct {
	urls []string
	cur  int
}

func newURLSource(urls []string) *urlSource {
	return &urlSource{urls: urls, cur: -1}
}

// Next reports whether another URL is available. It returns false once the
// batch is drained or ctx is cancelled, so no further work is dispatched
// after a stop request.
func (s *urlSource) Next(ctx context.Context) bool {
	if ctx.Err() != nil || s.cur+1 >= len(s.urls) {
		return false
	}
	s.cur++

	return true
}

// Payload returns the payload for the current URL.
func (s *urlSource) Payload() pipeline.Payload {
	payload := payloadPool.Get().(*crawlerPayload)
	payload.URL = s.urls[s.cur]

	return payload
}

// Error implements pipeline.Source.
func (s *urlSource) Error() error {
	return nil
}
