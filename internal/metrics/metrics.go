// Package metrics registers the Prometheus metrics of the embed filter.
// Import it from the server entry point before mounting /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Link results used as the "result" label of LinksTotal.
const (
	ResultEmbedded = "embedded"
	ResultSkipped  = "skipped"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	// LinksTotal counts matched links by provider and outcome
	// ("embedded", "skipped", "rejected", "error").
	LinksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oembed_links_total",
			Help: "Total number of provider links processed by the filter.",
		},
		[]string{"provider", "result"},
	)

	// FilterDuration observes the time spent in one Apply call.
	FilterDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oembed_filter_duration_seconds",
			Help:    "Duration of one filter pass over a document.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// FetchDuration observes oEmbed API latency per provider.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oembed_fetch_duration_seconds",
			Help:    "oEmbed API request duration in seconds.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// FetchErrors counts failed oEmbed requests by provider and error type
	// ("http_error", "not_found", "circuit_open", "rate_limited", "timeout").
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oembed_fetch_errors_total",
			Help: "Total oEmbed fetch errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// CacheHits and CacheMisses count response cache lookups.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oembed_cache_hits_total",
		Help: "Total oEmbed response cache hits.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oembed_cache_misses_total",
		Help: "Total oEmbed response cache misses.",
	})

	// CircuitBreakerState tracks each endpoint breaker:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oembed_circuit_breaker_state",
			Help: "Circuit breaker state per endpoint host (0=closed 1=open 2=half_open).",
		},
		[]string{"endpoint"},
	)

	// CatalogRefreshes counts provider catalog downloads by result.
	CatalogRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oembed_catalog_refresh_total",
			Help: "Total provider catalog refreshes.",
		},
		[]string{"result"},
	)

	// AdminActions counts management actions ("enable", "disable", "edit",
	// "save", "cancel", "delete", "create", "refresh", "settings").
	AdminActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oembed_admin_actions_total",
			Help: "Total provider management actions.",
		},
		[]string{"action"},
	)

	// EnabledProviders reports how many providers are in the active registry.
	EnabledProviders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oembed_enabled_providers",
		Help: "Number of enabled providers.",
	})
)
