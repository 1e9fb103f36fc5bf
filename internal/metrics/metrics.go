package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects proxy request telemetry for the /metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestBytes    prometheus.Counter
	responseBytes   prometheus.Counter
	rateLimited     prometheus.Counter
	upstreamErrors  prometheus.Counter
}

// New creates a Metrics backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llamaserve_requests_total",
			Help: "Proxied requests by method and status code.",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llamaserve_request_duration_seconds",
			Help:    "Wall-clock duration from upstream call to stream completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		requestBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "llamaserve_request_bytes_total",
			Help: "Request body bytes forwarded upstream.",
		}),
		responseBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "llamaserve_response_bytes_total",
			Help: "Response body bytes streamed to clients.",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "llamaserve_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		upstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "llamaserve_upstream_errors_total",
			Help: "Upstream connection failures.",
		}),
	}
}

// ObserveRequest records one completed (or rejected) request.
func (m *Metrics) ObserveRequest(method string, status int, duration time.Duration, requestBytes, responseBytes int64) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
	m.requestBytes.Add(float64(requestBytes))
	m.responseBytes.Add(float64(responseBytes))
}

// RecordRateLimited counts a 429 rejection.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// RecordUpstreamError counts a 502.
func (m *Metrics) RecordUpstreamError() {
	m.upstreamErrors.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
