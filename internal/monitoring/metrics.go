package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antigravity_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "antigravity_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "antigravity_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Credential pool metrics
	CredentialPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "antigravity_credential_pool_size",
			Help: "Number of credentials currently loaded",
		},
	)

	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antigravity_credential_refreshes_total",
			Help: "Total number of credential token refreshes",
		},
		[]string{"credential", "status"},
	)

	CredentialHealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antigravity_credential_health_checks_total",
			Help: "Total number of credential health checks",
		},
		[]string{"credential", "outcome"},
	)

	// Rate limiter internals
	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "antigravity_rate_limit_keys",
			Help: "Number of active per-key rate limiters",
		},
	)

	RateLimitSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "antigravity_rate_limit_sweeps_total",
			Help: "Total number of rate limiter TTL cache sweeps",
		},
	)
)
