// Package metrics defines the Prometheus metric collectors used by the search
// and analytics services and exposes an HTTP handler for scraping.
//
// All recording helpers are safe to call on a nil *Metrics, so components can
// be constructed without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexedDocuments     *prometheus.GaugeVec
	IndexRebuildsTotal   *prometheus.CounterVec
	IndexFailuresTotal   prometheus.Counter
	SuggestionsTotal     *prometheus.CounterVec
	AnalyticsDropped     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec

	registry prometheus.Gatherer
}

// New creates all collectors and registers them with reg. Pass
// prometheus.NewRegistry() in tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (hit, zero_result, empty, unavailable, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of matching documents per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_hits_total",
				Help: "Total number of search response cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_misses_total",
				Help: "Total number of search response cache misses.",
			},
		),
		IndexedDocuments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Number of indexed documents per content type.",
			},
			[]string{"content_type"},
		),
		IndexRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_rebuilds_total",
				Help: "Total index rebuilds by scope and status.",
			},
			[]string{"scope", "status"},
		),
		IndexFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_document_failures_total",
				Help: "Total documents rejected while indexing.",
			},
		),
		SuggestionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "suggestions_total",
				Help: "Suggestions served by source (document, recent, popular).",
			},
			[]string{"source"},
		),
		AnalyticsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_events_dropped_total",
				Help: "Analytics events dropped because the buffer was full.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexedDocuments,
		m.IndexRebuildsTotal,
		m.IndexFailuresTotal,
		m.SuggestionsTotal,
		m.AnalyticsDropped,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the scrape handler for the registry m was built with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one executed search.
func (m *Metrics) ObserveSearch(outcome string, cacheStatus string, total int, took time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(took.Seconds())
	m.SearchResultsCount.Observe(float64(total))
}

// CacheResult records a cache lookup.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

// SetIndexedDocuments publishes the per-type document counts.
func (m *Metrics) SetIndexedDocuments(counts map[string]int) {
	if m == nil {
		return
	}
	for contentType, n := range counts {
		m.IndexedDocuments.WithLabelValues(contentType).Set(float64(n))
	}
}

// IndexRebuild records a finished rebuild and how many documents it rejected.
func (m *Metrics) IndexRebuild(scope string, status string, failed int) {
	if m == nil {
		return
	}
	m.IndexRebuildsTotal.WithLabelValues(scope, status).Inc()
	m.IndexFailuresTotal.Add(float64(failed))
}

// Suggestions records the number of suggestions served per source.
func (m *Metrics) Suggestions(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SuggestionsTotal.WithLabelValues(source).Add(float64(n))
}

// AnalyticsEventDropped records an event lost to a full buffer.
func (m *Metrics) AnalyticsEventDropped() {
	if m == nil {
		return
	}
	m.AnalyticsDropped.Inc()
}

// BreakerState publishes a circuit breaker transition.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
