// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultFallback = "fallback"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagebot_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Webhook pipeline
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_webhook_deliveries_total",
			Help: "Webhook POST deliveries by outcome",
		},
		[]string{"result"}, // "accepted", "not_page", "malformed", "bad_signature"
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebot_events_total",
			Help: "Normalized messaging events processed",
		},
	)

	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_commands_total",
			Help: "Slash commands handled",
		},
		[]string{"command"},
	)

	MembersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebot_members_registered_total",
			Help: "First-contact member registrations",
		},
	)

	// Outbound
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_messages_sent_total",
			Help: "Outbound Send API calls by outcome",
		},
		[]string{"result"},
	)

	Completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_completions_total",
			Help: "AI completion requests by outcome",
		},
		[]string{"result"},
	)

	// Broadcast
	BroadcastRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebot_broadcast_runs_total",
			Help: "Broadcast ticks executed",
		},
	)

	BroadcastSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_broadcast_sends_total",
			Help: "Broadcast messages by outcome",
		},
		[]string{"result"},
	)

	ErrorReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_error_reports_total",
			Help: "Errors reported to the admin conversation",
		},
		[]string{"component"},
	)
)
