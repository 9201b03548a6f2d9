package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"direct-messenger/internal/models"
)

// Metrics holds the messaging counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	messagesSent    *prometheus.CounterVec
	fanoutDelivered prometheus.Counter
	fanoutDropped   prometheus.Counter
	decodeFailures  prometheus.Counter
	connections     prometheus.Gauge
}

// NewMetrics registers the collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messenger",
			Name:      "messages_sent_total",
			Help:      "Messages persisted, by kind.",
		}, []string{"kind"}),
		fanoutDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "messenger",
			Name:      "fanout_delivered_total",
			Help:      "Realtime events queued to a connection.",
		}),
		fanoutDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "messenger",
			Name:      "fanout_dropped_total",
			Help:      "Realtime events dropped because a connection buffer was full.",
		}),
		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "messenger",
			Name:      "message_decode_failures_total",
			Help:      "Stored messages that could not be decrypted.",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "messenger",
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
	}
}

func (m *Metrics) messageSent(kind models.MessageKind) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) fanout(delivered, dropped int) {
	if m == nil {
		return
	}
	m.fanoutDelivered.Add(float64(delivered))
	m.fanoutDropped.Add(float64(dropped))
}

func (m *Metrics) decodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
