package mirror

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// close reasons used as the `reason` label
const (
	CloseReasonPeer         = "peer"
	CloseReasonTooBig       = "too_big"
	CloseReasonInvalidType  = "invalid_type"
	CloseReasonReadError    = "read_error"
	CloseReasonSendError    = "send_error"
	CloseReasonShutdown     = "shutdown"
	CloseReasonCancel       = "cancel"
	CloseReasonConstruction = "construction"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirror",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently attached or active.",
		},
	)
	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirror",
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Sessions terminated, by cause.",
		},
		[]string{"reason"},
	)
	batchesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirror",
			Subsystem: "transmit",
			Name:      "batches_total",
			Help:      "Outbound batches sent.",
		},
	)
	messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirror",
			Subsystem: "transmit",
			Name:      "messages_total",
			Help:      "Outbound messages sent, across all batches.",
		},
	)
	messagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirror",
			Subsystem: "transmit",
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped because they could not be encoded.",
		},
	)
	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirror",
			Subsystem: "transmit",
			Name:      "batch_messages",
			Help:      "Messages per outbound batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirror",
			Subsystem: "receive",
			Name:      "messages_total",
			Help:      "Inbound messages, by result.",
		},
		[]string{"result"},
	)
	upgradesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirror",
			Subsystem: "server",
			Name:      "upgrades_rejected_total",
			Help:      "Upgrade requests rejected before a session was created.",
		},
		[]string{"status"},
	)
)

// registers on the default registry. safe to call more than once
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive,
			sessionsClosed,
			batchesSent,
			messagesSent,
			messagesDropped,
			batchSize,
			inboundMessages,
			upgradesRejected,
		)
	})
}

func recordBatch(messageCount int) {
	batchesSent.Inc()
	messagesSent.Add(float64(messageCount))
	batchSize.Observe(float64(messageCount))
}

func recordOutboundDropped() {
	messagesDropped.Inc()
}

func recordInbound(result string) {
	inboundMessages.WithLabelValues(result).Inc()
}

func recordUpgradeRejected(status string) {
	upgradesRejected.WithLabelValues(status).Inc()
}
