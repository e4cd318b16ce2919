// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mizan_entitlement_resolutions_total",
		Help: "Entitlement resolutions by outcome (active, inactive, error).",
	}, []string{"outcome"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mizan_entitlement_cache_hits_total",
		Help: "Entitlement read cache hits.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mizan_entitlement_cache_misses_total",
		Help: "Entitlement read cache misses.",
	})

	ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mizan_moderation_actions_total",
		Help: "Moderation operations by action and result kind.",
	}, []string{"action", "result"})

	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mizan_payment_events_total",
		Help: "Payment provider events by type and result.",
	}, []string{"type", "result"})

	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mizan_code_redemptions_total",
		Help: "Code redemption attempts by result.",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mizan_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
