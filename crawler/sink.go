package crawler

import (
	"context"

	"github.com/mycok/zhsearch/pipeline"
)

var _ pipeline.Sink = (*frontierSink)(nil)

// frontierSink gathers the URLs discovered by a batch. The pipeline feeds a
// sink from a single goroutine.
type frontierSink struct {
	pages      int
	discovered map[string]struct{}
}

func newFrontierSink() *frontierSink {
	return &frontierSink{discovered: make(map[string]struct{})}
}

func (s *frontierSink) Consume(_ context.Context, p pipeline.Payload) error {
	payload, ok := p.(*crawlerPayload)
	if !ok {
		return nil
	}

	s.pages++
	for _, link := range payload.Links {
		s.discovered[link.URL] = struct{}{}
	}

	return nil
}

// urls returns the discovered URLs.
func (s *frontierSink) urls() []string {
	out := make([]string, 0, len(s.discovered))
	for u := range s.discovered {
		out = append(out, u)
	}

	return out
}
