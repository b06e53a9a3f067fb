package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	httpRequestsTotal   *prometheus.CounterVec
	httpLatencySeconds  *prometheus.HistogramVec
	httpErrorsTotal     *prometheus.CounterVec
	chatMessagesTotal   *prometheus.CounterVec
	notificationEmails  *prometheus.CounterVec
	presenceEventsTotal *prometheus.CounterVec
	chatConnections     prometheus.Gauge
	unreadStreamClients prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expertdesk_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "expertdesk_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expertdesk_http_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		chatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expertdesk_chat_messages_total",
			Help: "Total number of chat messages accepted, by sender role.",
		}, []string{"sender_role"})

		notificationEmails = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expertdesk_notification_emails_total",
			Help: "Notification email decisions, by outcome (sent, failed, queued).",
		}, []string{"outcome"})

		presenceEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expertdesk_presence_events_total",
			Help: "Presence transitions applied to live sessions, by kind.",
		}, []string{"kind"})

		chatConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "expertdesk_chat_connections",
			Help: "Currently open conversation stream connections.",
		})

		unreadStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "expertdesk_unread_stream_clients",
			Help: "Currently connected unread badge stream clients.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			chatMessagesTotal,
			notificationEmails,
			presenceEventsTotal,
			chatConnections,
			unreadStreamClients,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// ChatMessagesSent exposes the counter for accepted chat messages.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesTotal
}

// NotificationEmails exposes the counter for email decisions.
func NotificationEmails() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationEmails
}

// PresenceEvents exposes the counter for presence transitions.
func PresenceEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return presenceEventsTotal
}

// ChatConnections exposes the gauge for open conversation streams.
func ChatConnections() prometheus.Gauge {
	RegisterMetrics()
	return chatConnections
}

// UnreadStreamClients exposes the gauge for unread badge subscribers.
func UnreadStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return unreadStreamClients
}
