// Package report prints crawl progress events as they arrive.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"

	"github.com/mycok/zhsearch/crawler/progress"
)

// Feed is implemented by progress sources: the in-process progress.Log and
// the file based progress.Tailer.
type Feed interface {
	Tail(ctx context.Context, deliver func(progress.Event) error) error
}

// Config defines configurations for the progress reporter service.
type Config struct {
	// Where progress events come from.
	Feed Feed

	// Out receives the rendered lines. Defaults to os.Stdout.
	Out io.Writer

	// Colors enables ANSI colors.
	Colors bool

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (config *Config) validate() error {
	var err error

	if config.Feed == nil {
		err = multierror.Append(err, fmt.Errorf("progress feed not provided"))
	}

	if config.Out == nil {
		config.Out = os.Stdout
	}

	if config.Logger == nil {
		config.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

// Service renders progress events until the crawl completes or the context
// is cancelled.
type Service struct {
	config Config

	mu          sync.Mutex
	lastWaiting bool
}

// New creates and returns a fully configured reporter service instance.
func New(config Config) (*Service, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("report service: config validation failed: %w", err)
	}

	return &Service{config: config}, nil
}

// Name returns the name of the service.
func (svc *Service) Name() string { return "progress-report" }

// Run executes the service and blocks until a crawl_completed event was
// rendered, the context gets cancelled or an error occurs.
func (svc *Service) Run(ctx context.Context) error {
	svc.config.Logger.Info("starting service")
	defer svc.config.Logger.Info("stopped service")

	return svc.config.Feed.Tail(ctx, svc.render)
}

func (svc *Service) render(evt progress.Event) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	line := svc.format(evt)
	if line == "" {
		return nil
	}

	_, err := fmt.Fprintf(svc.config.Out, "%s %s\n", svc.paint(text.FgHiBlack, evt.Timestamp.Local().Format("15:04:05")), line)

	return err
}

func (svc *Service) format(evt progress.Event) string {
	d := evt.Data

	// Only the first of a run of waiting events is shown; heartbeats are
	// never shown.
	if evt.Type != progress.Heartbeat {
		wasWaiting := svc.lastWaiting
		svc.lastWaiting = evt.Type == progress.Waiting
		if wasWaiting && svc.lastWaiting {
			return ""
		}
	}

	switch evt.Type {
	case progress.Waiting:
		return svc.paint(text.FgYellow, fmt.Sprintf("%v...", d["message"]))
	case progress.Heartbeat:
		return ""
	case progress.CrawlStarted:
		return svc.paint(text.FgCyan, fmt.Sprintf("crawl started: %d start urls, max %v pages, %v iterations",
			count(d["start_urls"]), d["max_pages"], d["iterations"]))
	case progress.ProgressUpdate:
		return fmt.Sprintf("[%v/%v] %s %s", d["page_count"], d["max_pages"],
			svc.paint(text.Bold, fmt.Sprint(d["title"])), svc.paint(text.FgBlue, fmt.Sprint(d["url"])))
	case progress.IterationUpdate:
		return svc.paint(text.FgCyan, fmt.Sprintf("iteration %v/%v done: batch %v, %v new urls, %v pages",
			d["iteration"], d["total_iterations"], d["batch_size"], d["new_urls"], d["page_count"]))
	case progress.CrawlStopped:
		return svc.paint(text.FgYellow, fmt.Sprintf("crawl stopped at iteration %v with %v pages, %v urls pending",
			d["iteration"], d["page_count"], d["pending"]))
	case progress.CrawlResumed:
		return svc.paint(text.FgCyan, fmt.Sprintf("crawl resumed at iteration %v with %v pages, %v urls pending",
			d["iteration"], d["page_count"], d["pending"]))
	case progress.CrawlCompleted:
		return svc.paint(text.FgGreen, fmt.Sprintf("crawl completed: %v pages", d["page_count"]))
	case progress.Error:
		return svc.paint(text.FgRed, fmt.Sprintf("crawl error: %v", d["message"]))
	default:
		return fmt.Sprintf("%s %v", evt.Type, d)
	}
}

func (svc *Service) paint(c text.Color, s string) string {
	if !svc.config.Colors {
		return s
	}

	return c.Sprint(s)
}

// count returns the length of a list decoded from JSON or built in process.
func count(v interface{}) int {
	switch l := v.(type) {
	case []interface{}:
		return len(l)
	case []string:
		return len(l)
	default:
		return 0
	}
}
