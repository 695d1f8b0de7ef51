package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records auth flow outcomes by flow (register|login|verify_email|
	// forgot_password|reset_password|change_password|external) and result.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_auth_attempts_total",
			Help: "Total number of authentication flow invocations",
		},
		[]string{"flow", "result"},
	)

	// ActionTokens counts action token lifecycle events (issued|consumed|rejected) per purpose.
	ActionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_action_tokens_total",
			Help: "Action token lifecycle events",
		},
		[]string{"purpose", "event"},
	)

	// PasswordHashDuration measures hashing and verification latency.
	PasswordHashDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authcore_password_hash_seconds",
			Help:    "Password hash and verify latency",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op", "algorithm"},
	)

	// PurgedTokens counts action tokens removed by the maintenance job.
	PurgedTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authcore_action_tokens_purged_total",
			Help: "Expired or consumed action tokens removed by maintenance",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authcore_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
