// Package metrics holds the Prometheus collectors of the leave-quota service.
//
// Collectors are registered on the default registry at init and exposed by
// the API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leave_quota"

// BalancesCreated counts monthly balances created by the resolver.
var BalancesCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "balances_created_total",
	Help:      "Total monthly leave balances created on first access.",
})

// Decisions counts quota decisions by bucket and result (allowed, refused).
var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "decisions_total",
	Help:      "Total quota decisions by bucket and result.",
}, []string{"bucket", "result"})

// UsageApplied counts usage changes by bucket and direction (increment, decrement).
var UsageApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "usage_applied_total",
	Help:      "Total usage counter changes by bucket and direction.",
}, []string{"bucket", "direction"})

// HTTPRequests counts handled API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests by route and status.",
}, []string{"route", "status"})

// HTTPDuration observes API latency by route pattern.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})

// RecordDecision counts a policy decision made outside the store.
func RecordDecision(bucket string, allowed bool) {
	result := "refused"
	if allowed {
		result = "allowed"
	}
	Decisions.WithLabelValues(bucket, result).Inc()
}
