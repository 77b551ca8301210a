package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "zhsearch"
	metricsSubsystem = "crawler"
)

// metrics holds the Prometheus collectors of a crawl engine.
type metrics struct {
	pagesFetched    prometheus.Counter
	fetchFailures   prometheus.Counter
	pagesSaved      prometheus.Counter
	linksDiscovered prometheus.Counter
	batchDuration   prometheus.Histogram
}

// newMetrics registers the crawl metrics on reg, or on a private registry
// when reg is nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	return &metrics{
		pagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pages_fetched_total",
			Help:      "Total number of pages fetched and decoded",
		}),
		fetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "fetch_failures_total",
			Help:      "Total number of fetches that failed or returned unusable content",
		}),
		pagesSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pages_saved_total",
			Help:      "Total number of pages persisted",
		}),
		linksDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "links_discovered_total",
			Help:      "Total number of followable links extracted",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batch_duration_seconds",
			Help:      "Wall time spent crawling one batch",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}
