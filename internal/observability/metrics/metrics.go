// Package metrics holds the process-wide prometheus collectors. The vectors
// are usable before MustRegister, which only exposes them under a service
// label.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Messages persisted, by send path.",
		},
		[]string{"path"},
	)

	FanoutRecipients = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanout_recipients",
			Help:    "Recipients per fan-out encryption.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	FanoutFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_failures_total",
			Help: "Rejected sends before persistence, by reason.",
		},
		[]string{"reason"},
	)

	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Session validations, by result.",
		},
		[]string{"result"},
	)

	KeyOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_operations_total",
			Help: "Public key directory operations.",
		},
		[]string{"operation", "result"},
	)

	PresenceConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_connections",
			Help: "Registered live connections.",
		},
	)

	PresenceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_total",
			Help: "Presence events queued for delivery, by kind.",
		},
		[]string{"kind"},
	)

	PresenceDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_dropped_total",
			Help: "Events skipped because a connection's send queue was full.",
		},
	)

	PresencePrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_pruned_total",
			Help: "Connections removed after a failed write.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		MessagesSentTotal,
		FanoutRecipients,
		FanoutFailuresTotal,
		AuthAttemptsTotal,
		KeyOperationsTotal,
		PresenceConnections,
		PresenceEventsTotal,
		PresenceDroppedTotal,
		PresencePrunedTotal,
	}
}

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	Register(prometheus.DefaultRegisterer, serviceName)
}

func Register(reg prometheus.Registerer, serviceName string) {
	prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, reg).MustRegister(collectors()...)
}
