package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records auth, session and wallet metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	authAttempts     *prometheus.CounterVec
	authLatency      *prometheus.HistogramVec
	sessionStates    *prometheus.CounterVec
	routeDecisions   *prometheus.CounterVec
	walletOps        *prometheus.CounterVec
	walletEvents     *prometheus.CounterVec
	walletHandshakes prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthdash_auth_attempts_total",
			Help: "Authentication attempts by method and outcome",
		}, []string{"method", "outcome"}),
		authLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthdash_auth_latency_seconds",
			Help:    "Authentication latency by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		sessionStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthdash_session_transitions_total",
			Help: "Session controller transitions by target state",
		}, []string{"state"}),
		routeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthdash_route_decisions_total",
			Help: "Route authorization decisions",
		}, []string{"decision"}),
		walletOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthdash_wallet_operations_total",
			Help: "Wallet lifecycle operations by name and outcome",
		}, []string{"op", "outcome"}),
		walletEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthdash_wallet_provider_events_total",
			Help: "Provider events by kind and whether they were applied",
		}, []string{"kind", "applied"}),
		walletHandshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthdash_wallet_handshakes_total",
			Help: "Account requests sent to wallet providers",
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.authLatency,
		c.sessionStates,
		c.routeDecisions,
		c.walletOps,
		c.walletEvents,
		c.walletHandshakes,
	)

	return c
}

func (c *Collector) RecordAuth(method, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.authAttempts.WithLabelValues(method, outcome).Inc()
	c.authLatency.WithLabelValues(method).Observe(took.Seconds())
}

func (c *Collector) RecordSessionState(state string) {
	if c == nil {
		return
	}
	c.sessionStates.WithLabelValues(state).Inc()
}

func (c *Collector) RecordRouteDecision(redirect bool) {
	if c == nil {
		return
	}
	decision := "allow"
	if redirect {
		decision = "redirect"
	}
	c.routeDecisions.WithLabelValues(decision).Inc()
}

func (c *Collector) RecordWalletOp(op, outcome string) {
	if c == nil {
		return
	}
	c.walletOps.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) RecordWalletEvent(kind string, applied bool) {
	if c == nil {
		return
	}
	a := "false"
	if applied {
		a = "true"
	}
	c.walletEvents.WithLabelValues(kind, a).Inc()
}

func (c *Collector) RecordHandshake() {
	if c == nil {
		return
	}
	c.walletHandshakes.Inc()
}

// Handler serves the gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
