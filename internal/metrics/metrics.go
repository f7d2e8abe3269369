// Package metrics provides the Prometheus collectors for quill.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector exported by the server.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Accounts
	AuthEventsTotal  *prometheus.CounterVec
	EmailsSentTotal  *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec

	// Secret sweeper
	SweeperRunsTotal      prometheus.Counter
	SweeperSecretsCleared prometheus.Counter
	SweeperRunDuration    prometheus.Histogram
	SweeperLastRunTime    prometheus.Gauge
	SweeperExpiredPending prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWithRegistry(namespace, reg, reg)
}

// NewMetricsWithRegistry registers the collectors on reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests being served.",
		}),

		AuthEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Account events by outcome.",
		}, []string{"event", "outcome"}),
		EmailsSentTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mail",
			Name:      "sent_total",
			Help:      "Outbound emails by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "rate_limited_total",
			Help:      "Attempts rejected by the attempt limiter.",
		}, []string{"scope"}),

		SweeperRunsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Completed expired secret sweeps.",
		}),
		SweeperSecretsCleared: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "secrets_cleared_total",
			Help:      "Expired secrets cleared by the sweeper.",
		}),
		SweeperRunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of a sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		SweeperLastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last sweep.",
		}),
		SweeperExpiredPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "expired_pending",
			Help:      "Expired secrets found by the last dry run.",
		}),

		gatherer: gatherer,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordAuthEvent records an account event such as "login" with outcome "success".
func (m *Metrics) RecordAuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.AuthEventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordEmail records one delivery attempt.
func (m *Metrics) RecordEmail(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.EmailsSentTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordRateLimited records a rejected attempt.
func (m *Metrics) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordSweep records a completed sweep.
func (m *Metrics) RecordSweep(seconds float64, cleared int64) {
	if m == nil {
		return
	}
	m.SweeperRunsTotal.Inc()
	m.SweeperSecretsCleared.Add(float64(cleared))
	m.SweeperRunDuration.Observe(seconds)
	m.SweeperLastRunTime.SetToCurrentTime()
}
