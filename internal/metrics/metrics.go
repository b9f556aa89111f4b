package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Routing metrics
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_routed_total",
			Help: "Messages delivered to session histories",
		},
		[]string{"type"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Messages dropped before delivery",
		},
		[]string{"reason"}, // "ttl_expired", "filtered", "no_targets"
	)

	HandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handler_errors_total",
			Help: "Registered type handler failures",
		},
		[]string{"type"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_dispatch_duration_seconds",
			Help:    "Time spent delivering one message",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Delivery store metrics
	OfflineEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_offline_enqueued_total",
			Help: "Messages stored for disconnected recipients",
		},
	)

	DeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dead_letter_total",
			Help: "Messages moved to the dead-letter queue",
		},
	)

	// Transport metrics
	TransportSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_transport_sends_total",
			Help: "Real-time pushes by outcome",
		},
		[]string{"outcome"}, // "delivered", "offline", "failed"
	)

	KnowledgeShares = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_knowledge_shares_total",
			Help: "Cross-project knowledge share attempts",
		},
		[]string{"outcome"}, // "shared", "rejected"
	)
)
