// Package metrics holds every Prometheus metric the gateway exposes on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for knockd.
type Metrics struct {
	ForwardAuthDecisions *prometheus.CounterVec
	ForwardAuthDuration  *prometheus.HistogramVec
	LoginAttempts        *prometheus.CounterVec
	BansTriggered        *prometheus.CounterVec
	GuestLinksIssued     prometheus.Counter
	AuditDropsTotal      prometheus.Counter
	RateLimitKeys        prometheus.Gauge
}

// New creates and registers every metric with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ForwardAuthDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "knock",
				Name:      "forward_auth_decisions_total",
				Help:      "Total forward-auth sub-requests, labeled by the access level that decided them",
			},
			[]string{"level"},
		),
		ForwardAuthDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "knock",
				Name:      "forward_auth_duration_seconds",
				Help:      "Forward-auth sub-request handling time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"level"},
		),
		LoginAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "knock",
				Name:      "login_attempts_total",
				Help:      "Total login attempts, labeled by result",
			},
			[]string{"result"}, // success, bad_totp, unknown_user, banned
		),
		BansTriggered: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "knock",
				Name:      "bans_triggered_total",
				Help:      "Total times a ban timer tripped, labeled by scope",
			},
			[]string{"scope"}, // ip, user
		),
		GuestLinksIssued: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "knock",
				Name:      "guest_links_issued_total",
				Help:      "Total guest links issued via the portal API",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "knock",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "knock",
				Name:      "rate_limit_keys",
				Help:      "Number of active forward-auth rate limiter keys",
			},
		),
	}
}
