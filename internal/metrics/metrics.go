// Package metrics exposes viewer counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the viewer's collectors on a private registry, so several
// viewers in one process do not clash.
type Metrics struct {
	registry *prometheus.Registry

	segmentsFetched  *prometheus.CounterVec
	fetchFailures    prometheus.Counter
	fetchLatency     *prometheus.HistogramVec
	discoveries      *prometheus.CounterVec
	peerAttempts     *prometheus.CounterVec
	segmentsServed   prometheus.Counter
	segmentsPlayed   prometheus.Counter
	bufferedSegments prometheus.Gauge
	inflightFetches  prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		segmentsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewer_segments_fetched_total",
			Help: "Segments obtained, by source",
		}, []string{"source"}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewer_segment_fetch_failures_total",
			Help: "Segment fetches that exhausted every source",
		}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "viewer_segment_fetch_seconds",
			Help:    "Time to download a segment, by source",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"source"}),
		discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewer_discovery_requests_total",
			Help: "WHO_HAS requests, by outcome",
		}, []string{"result"}),
		peerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewer_peer_attempts_total",
			Help: "Direct peer fetch attempts, by outcome",
		}, []string{"result"}),
		segmentsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewer_segments_served_total",
			Help: "Segments pushed to peers over data channels",
		}),
		segmentsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewer_segments_played_total",
			Help: "Segments consumed by playback",
		}),
		bufferedSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewer_buffered_segments",
			Help: "Segments ready in the playback buffer",
		}),
		inflightFetches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewer_inflight_fetches",
			Help: "Segment fetches currently running",
		}),
	}

	registry.MustRegister(
		m.segmentsFetched,
		m.fetchFailures,
		m.fetchLatency,
		m.discoveries,
		m.peerAttempts,
		m.segmentsServed,
		m.segmentsPlayed,
		m.bufferedSegments,
		m.inflightFetches,
	)
	return m
}

func (m *Metrics) ObserveFetch(source string, latencyMs int64) {
	m.segmentsFetched.WithLabelValues(source).Inc()
	m.fetchLatency.WithLabelValues(source).Observe(float64(latencyMs) / 1000)
}

func (m *Metrics) IncFetchFailures() {
	m.fetchFailures.Inc()
}

// IncDiscovery counts a discovery outcome: "peers", "empty" or "error".
func (m *Metrics) IncDiscovery(result string) {
	m.discoveries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncPeerAttempt(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	m.peerAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) IncServed() {
	m.segmentsServed.Inc()
}

func (m *Metrics) IncPlayed() {
	m.segmentsPlayed.Inc()
}

func (m *Metrics) SetBuffered(n int) {
	m.bufferedSegments.Set(float64(n))
}

func (m *Metrics) SetInflight(n int) {
	m.inflightFetches.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry. beforeScrape, when set, runs before each
// scrape to refresh gauges.
func (m *Metrics) Handler(beforeScrape func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if beforeScrape != nil {
			beforeScrape()
		}
		h.ServeHTTP(w, r)
	})
}
