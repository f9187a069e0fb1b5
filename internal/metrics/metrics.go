// Package metrics defines the prometheus collectors for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subscription registry metrics
var (
	// ActiveSessions tracks live authenticated websocket sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_sessions",
			Help: "Number of live authenticated sessions",
		},
	)

	// ActiveTopics tracks topics with at least one subscriber
	ActiveTopics = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_topics",
			Help: "Number of topics with at least one subscriber",
		},
	)

	// SubscriptionsTotal tracks registry mutations by action
	SubscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_subscriptions_total",
			Help: "Registry subscribe/unsubscribe operations by action",
		},
		[]string{"action"},
	)
)

// Fan-out metrics
var (
	// FanoutDeliveredTotal tracks per-session deliveries of update events
	FanoutDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_fanout_delivered_total",
			Help: "Update events delivered to subscribed sessions",
		},
	)

	// FanoutDroppedTotal tracks deliveries dropped because a session was slow or gone
	FanoutDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_fanout_dropped_total",
			Help: "Update deliveries dropped for slow or disconnected sessions",
		},
	)
)

// Auth and feed metrics
var (
	// AuthFailuresTotal tracks refused connections and requests by reason
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Authentication failures by reason",
		},
		[]string{"reason"},
	)

	// FeedMessagesTotal tracks inbound feed messages by status
	FeedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_feed_messages_total",
			Help: "Inbound feed messages by status (ok/malformed)",
		},
		[]string{"status"},
	)

	// UpstreamBreakerState tracks the market-data circuit breaker state
	// (0=closed, 1=half-open, 2=open)
	UpstreamBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_upstream_breaker_state",
			Help: "Market-data circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
