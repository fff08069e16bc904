package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapp_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatapp_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatapp_messages_sent_total",
			Help: "Total messages sent",
		},
	)

	ConversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapp_conversations_created_total",
			Help: "Total conversations created",
		},
		[]string{"kind"}, // "direct" or "group"
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapp_events_published_total",
			Help: "Total events published on the bus",
		},
		[]string{"topic"},
	)

	UploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatapp_uploads_total",
			Help: "Total files uploaded",
		},
	)

	// Subscription metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatapp_ws_connections",
			Help: "Open websocket subscription connections",
		},
	)

	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatapp_subscriptions_active",
			Help: "Active bus subscriptions across all connections",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapp_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
