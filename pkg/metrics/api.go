package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics contains Prometheus metrics for the request pipeline.
type APIMetrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	StageRejections      *prometheus.CounterVec
	RateLimitDecisions   *prometheus.CounterVec
	CacheOperations      *prometheus.CounterVec
	CacheInvalidations   *prometheus.CounterVec
	AuthFailures         *prometheus.CounterVec
	ReadingsIngested     prometheus.Counter
}

// NewAPIMetrics creates and registers pipeline metrics on reg, or on the
// global Registry when reg is nil.
func NewAPIMetrics(namespace string, reg prometheus.Registerer) *APIMetrics {
	m := &APIMetrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		StageRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_rejections_total",
				Help:      "Requests short-circuited by a pipeline stage",
			},
			[]string{"stage", "code"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Rate limit decisions by rule and outcome",
			},
			[]string{"rule", "outcome"}, // outcome: allowed, denied, degraded
		),
		CacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "operations_total",
				Help:      "Cache reads and writes by result",
			},
			[]string{"op", "result"},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "invalidations_total",
				Help:      "Cache invalidations by scope",
			},
			[]string{"scope"},
		),
		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "failures_total",
				Help:      "Authentication and authorization failures",
			},
			[]string{"reason"},
		),
		ReadingsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "ingested_total",
				Help:      "Total number of readings written",
			},
		),
	}

	registererOrDefault(reg).MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.StageRejections,
		m.RateLimitDecisions,
		m.CacheOperations,
		m.CacheInvalidations,
		m.AuthFailures,
		m.ReadingsIngested,
	)

	return m
}
