package crawl

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -package mock_crawl -destination mocks/mock.go github.com/mycok/zhsearch/service/crawl Engine

// Engine is the subset of crawler.Engine driven by the service.
type Engine interface {
	// Initialize removes the artifacts of a previous crawl.
	Initialize(ctx context.Context) error

	// Crawl runs a fresh crawl from startURLs.
	Crawl(ctx context.Context, startURLs []string) error

	// Resume continues a stopped crawl.
	Resume(ctx context.Context, startURLs []string) error

	// Stop asks a running crawl to pause.
	Stop()

	// PageCount returns the number of pages saved so far.
	PageCount() int
}

// Config defines configurations for the crawl service.
type Config struct {
	// The crawl engine to drive.
	Engine Engine

	// Start URLs. When empty the engine falls back to its configured ones.
	StartURLs []string

	// Resume continues the saved crawl instead of starting a new one.
	Resume bool

	// A clock instance for timing the run. If not specified, the default
	// wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (config *Config) validate() error {
	var err error

	if config.Engine == nil {
		err = multierror.Append(err, fmt.Errorf("crawl engine not provided"))
	}

	if config.Clock == nil {
		config.Clock = clock.WallClock
	}

	if config.Logger == nil {
		config.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}
