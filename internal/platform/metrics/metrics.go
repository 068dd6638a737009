package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the signage server.
type Metrics struct {
	registry                 *prometheus.Registry
	requestsTotal            *prometheus.CounterVec
	errorsTotal              prometheus.Counter
	uploadsTotal             *prometheus.CounterVec
	deletesTotal             *prometheus.CounterVec
	heartbeatsTotal          prometheus.Counter
	playlistRegenerations    *prometheus.CounterVec
	playlistRegenerationErrs *prometheus.CounterVec
	stores                   prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_requests_total",
		Help: "Total number of HTTP requests received",
	}, []string{"method", "class"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signage_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	uploadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_uploads_total",
		Help: "Total number of media files stored",
	}, []string{"side"})
	deletesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_deletes_total",
		Help: "Total number of media files deleted",
	}, []string{"side"})
	heartbeatsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signage_heartbeats_total",
		Help: "Total number of player heartbeats recorded",
	})
	playlistRegenerations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_playlist_regenerations_total",
		Help: "Total number of playlists written",
	}, []string{"side"})
	playlistRegenerationErrs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_playlist_regeneration_failures_total",
		Help: "Total number of playlist regenerations that failed, leaving the playlist stale",
	}, []string{"side"})
	stores := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signage_stores",
		Help: "Number of registered stores",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		uploadsTotal,
		deletesTotal,
		heartbeatsTotal,
		playlistRegenerations,
		playlistRegenerationErrs,
		stores,
	)

	return &Metrics{
		registry:                 registry,
		requestsTotal:            requestsTotal,
		errorsTotal:              errorsTotal,
		uploadsTotal:             uploadsTotal,
		deletesTotal:             deletesTotal,
		heartbeatsTotal:          heartbeatsTotal,
		playlistRegenerations:    playlistRegenerations,
		playlistRegenerationErrs: playlistRegenerationErrs,
		stores:                   stores,
	}
}

// IncRequests increments the request counter for method and status class
// ("2xx", "4xx", ...).
func (m *Metrics) IncRequests(method, class string) {
	m.requestsTotal.WithLabelValues(method, class).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncUploads increments the uploads counter for side.
func (m *Metrics) IncUploads(side string) {
	m.uploadsTotal.WithLabelValues(side).Inc()
}

// IncDeletes increments the deletes counter for side.
func (m *Metrics) IncDeletes(side string) {
	m.deletesTotal.WithLabelValues(side).Inc()
}

// IncHeartbeats increments the heartbeat counter.
func (m *Metrics) IncHeartbeats() {
	m.heartbeatsTotal.Inc()
}

// IncPlaylistRegenerations counts a playlist written for side.
func (m *Metrics) IncPlaylistRegenerations(side string) {
	m.playlistRegenerations.WithLabelValues(side).Inc()
}

// IncPlaylistFailures counts a failed regeneration for side.
func (m *Metrics) IncPlaylistFailures(side string) {
	m.playlistRegenerationErrs.WithLabelValues(side).Inc()
}

// SetStores sets the registered stores gauge.
func (m *Metrics) SetStores(n int) {
	m.stores.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
