package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts completed activity executions by outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadrelay_requests_total",
			Help: "Total synthetic activity executions",
		},
		[]string{"activity", "outcome"},
	)

	// RequestDuration tracks activity latency.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loadrelay_request_duration_seconds",
			Help:    "Latency of synthetic activity executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"activity"},
	)

	// ActiveUsers tracks virtual users currently inside their loop.
	ActiveUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadrelay_active_users",
			Help: "Virtual users currently running",
		},
	)

	// AlertsEnqueued counts candidates accepted by the relay queue.
	AlertsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loadrelay_alerts_enqueued_total",
			Help: "Alert candidates accepted by the relay queue",
		},
	)

	// AlertsDelivered counts candidates acknowledged by the alert endpoint.
	AlertsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loadrelay_alerts_delivered_total",
			Help: "Alert candidates acknowledged by the alert endpoint",
		},
	)

	// AlertsDropped counts candidates lost to a full queue, retry
	// exhaustion, or shutdown.
	AlertsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadrelay_alerts_dropped_total",
			Help: "Alert candidates dropped before delivery",
		},
		[]string{"reason"},
	)

	// QueueDepth tracks candidates waiting in the relay queue.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadrelay_relay_queue_depth",
			Help: "Alert candidates currently queued for delivery",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveUsers)
	prometheus.MustRegister(AlertsEnqueued)
	prometheus.MustRegister(AlertsDelivered)
	prometheus.MustRegister(AlertsDropped)
	prometheus.MustRegister(QueueDepth)
}
