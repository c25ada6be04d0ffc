package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	IntakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_intake_total",
			Help: "Checkout requests by result",
		},
		[]string{"result"}, // accepted|invalid|unavailable|error
	)

	OutboxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_outbox_total",
			Help: "Outbox rows by relay stage",
		},
		[]string{"stage"}, // claimed|sent|failed|exhausted|released
	)

	OutboxExhausted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifecycle_outbox_exhausted",
			Help: "FAILED outbox rows that ran out of attempts and wait for an operator",
		},
	)

	PublishSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifecycle_publish_seconds",
			Help:    "Broker publish latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"}, // ok|error
	)

	ConsumerTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_consumer_total",
			Help: "Consumed events by outcome",
		},
		[]string{"outcome"}, // applied|duplicate|rejected|malformed
	)

	AuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_audit_dropped_total",
			Help: "Event log records dropped because the writer was saturated or failed",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		IntakeTotal,
		OutboxTotal,
		OutboxExhausted,
		PublishSeconds,
		ConsumerTotal,
		AuditDropped,
	)
}
