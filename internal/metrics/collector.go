// Package metrics exposes prometheus instrumentation for the HTTP surface and
// the upstream services the relays call.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the service's metric vectors.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec
	upstreamBytes           *prometheus.CounterVec
}

// NewCollector registers the vectors on reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"method", "route"},
		),
		httpResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),
		upstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Calls made to external services, by outcome",
			},
			[]string{"upstream", "outcome"},
		),
		upstreamRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Duration of calls to external services",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"upstream"},
		),
		upstreamBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_response_bytes_total",
				Help:      "Bytes relayed back from external services",
			},
			[]string{"upstream"},
		),
	}
}

// RecordHTTPRequest records one served request. route should be the route
// pattern, not the raw path.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration, size int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, route).Observe(float64(size))
}

// RecordUpstream records one call to an external service. outcome is a short
// label such as "ok" or a relay kind name.
func (c *Collector) RecordUpstream(upstream, outcome string, duration time.Duration, bytes int) {
	if c == nil {
		return
	}
	c.upstreamRequestsTotal.WithLabelValues(upstream, outcome).Inc()
	c.upstreamRequestDuration.WithLabelValues(upstream).Observe(duration.Seconds())
	if bytes > 0 {
		c.upstreamBytes.WithLabelValues(upstream).Add(float64(bytes))
	}
}
