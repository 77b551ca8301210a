// Package crawl runs one crawl, fresh or resumed, as a service.Service.
package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mycok/zhsearch/crawler"
)

// Service drives a single crawl run. Cancelling the context passed to Run
// stops the crawl; its frontier is saved so a later run can resume it.
type Service struct {
	config Config
}

// New creates and returns a fully configured crawl service instance.
func New(config Config) (*Service, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("crawl service: config validation failed: %w", err)
	}

	return &Service{config: config}, nil
}

// Name returns the name of the service.
func (svc *Service) Name() string { return "crawl" }

// Run executes the crawl and blocks until it completes, fails or is
// stopped. A stopped crawl is not an error.
func (svc *Service) Run(ctx context.Context) error {
	logger := svc.config.Logger.WithFields(logrus.Fields{
		"run_id": uuid.New().String(),
		"resume": svc.config.Resume,
	})
	logger.Info("starting service")
	defer logger.Info("stopped service")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			svc.config.Engine.Stop()
		case <-done:
		}
	}()

	startedAt := svc.config.Clock.Now()

	var err error
	if svc.config.Resume {
		err = svc.config.Engine.Resume(ctx, svc.config.StartURLs)
	} else {
		if err = svc.config.Engine.Initialize(ctx); err != nil {
			return fmt.Errorf("crawl: unable to initialize: %w", err)
		}
		err = svc.config.Engine.Crawl(ctx, svc.config.StartURLs)
	}

	logger = logger.WithFields(logrus.Fields{
		"page_count":   svc.config.Engine.PageCount(),
		"elapsed_time": svc.config.Clock.Now().Sub(startedAt).String(),
	})

	switch {
	case errors.Is(err, crawler.ErrStopped):
		logger.Info("crawl stopped, frontier saved for resume")
		return nil
	case err != nil:
		return fmt.Errorf("crawl: %w", err)
	}

	logger.Info("crawl completed")

	return nil
}
