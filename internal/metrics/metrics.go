// Package metrics provides Prometheus instrumentation for the chat relay. It
// exposes gauges for sessions, connections and subscriptions, counters for
// message outcomes, and a histogram for routing latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message outcome labels for MessagesTotal.
const (
	ResultDelivered   = "delivered"
	ResultDropped     = "dropped"
	ResultRejected    = "rejected"
	ResultSessionLost = "session_lost"
	ResultRateLimited = "rate_limited"
)

var (
	// SessionsActive tracks the number of sessions in the registry.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_sessions_active",
		Help: "Current number of registered sessions",
	})

	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts inbound user messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_messages_total",
		Help: "Total number of user messages processed",
	}, []string{"result"})

	// MessageLatency records the time to validate, attribute and emit a message.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_message_latency_seconds",
		Help:    "Message routing latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// FeedSubscribed is 1 while the chat room item is subscribed.
	FeedSubscribed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_feed_subscribed",
		Help: "Whether the chat room item is currently subscribed",
	})

	// ItemSubscribers tracks transport-level subscribers per item.
	ItemSubscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatrelay_item_subscribers",
		Help: "Current number of connections subscribed to an item",
	}, []string{"item"})
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		ConnectionsTotal,
		MessagesTotal,
		MessageLatency,
		FeedSubscribed,
		ItemSubscribers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
