// Package metrics exposes the crawl metrics over HTTP while a crawl runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Config defines configurations for the metrics service.
type Config struct {
	// The address to listen on, e.g. ":9090".
	ListenAddr string

	// Gatherer is the registry the crawl engine reports to.
	Gatherer prometheus.Gatherer

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (config *Config) validate() error {
	var err error

	if config.ListenAddr == "" {
		err = multierror.Append(err, fmt.Errorf("listen address has not been specified"))
	}

	if config.Gatherer == nil {
		err = multierror.Append(err, fmt.Errorf("metrics gatherer not provided"))
	}

	if config.Logger == nil {
		config.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

// Service serves /metrics until its context is cancelled.
type Service struct {
	config Config
	mux    *http.ServeMux
}

// New creates and returns a fully configured metrics service instance.
func New(config Config) (*Service, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("metrics service: config validation failed: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))

	return &Service{config: config, mux: mux}, nil
}

// Name returns the name of the service.
func (svc *Service) Name() string { return "metrics" }

// Run executes the service and blocks until the context gets cancelled or
// the listener fails.
func (svc *Service) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", svc.config.ListenAddr)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	srv := &http.Server{
		Addr:              svc.config.ListenAddr,
		Handler:           svc.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()
		_ = srv.Shutdown(shutdownCtx)
	}()

	svc.config.Logger.WithField("addr", l.Addr().String()).Info("listening for metrics requests")

	if err = srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	svc.config.Logger.Info("stopped service")

	return nil
}
