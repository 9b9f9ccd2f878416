// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the intake body pipeline.
package observability

import "github.com/prometheus/client_golang/prometheus"

// BodyBuckets defines histogram buckets suited for request handling
// latencies dominated by body upload time, ranging from 5ms to 60s.
var BodyBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_request_duration_seconds",
			Help:    "Request duration",
			Buckets: BodyBuckets,
		},
		[]string{"method"},
	)

	// BodiesActive tracks the number of request bodies currently flowing
	// through the pipeline.
	BodiesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_bodies_active",
			Help: "Active request bodies",
		},
	)

	// BodyBytesReceivedTotal counts raw body bytes received from peers,
	// before any content decoding.
	BodyBytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_body_bytes_received_total",
			Help: "Raw body bytes received",
		},
	)

	// RateViolationsTotal counts bodies rejected for arriving below the
	// configured minimum data rate.
	RateViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_rate_violations_total",
			Help: "Minimum data rate violations",
		},
	)

	// InterceptorFailuresTotal counts body transformation failures by
	// reason (decode, protocol, panic).
	InterceptorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_interceptor_failures_total",
			Help: "Body interceptor failures",
		},
		[]string{"reason"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		BodiesActive,
		BodyBytesReceivedTotal,
		RateViolationsTotal,
		InterceptorFailuresTotal,
		RateLimitRejectedTotal,
	)
}
