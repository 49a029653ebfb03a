package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters and a histogram describing endpoint activity:
// packets sent/received/dropped, acks, path validation outcomes and key
// updates. It owns its own *prometheus.Registry rather than registering
// against the global default one, so a process running more than one
// endpoint can keep their series apart (mirrors how runZeroInc-sockstats'
// and runZeroInc-conniver's exporter packages pass their collectors around
// explicitly instead of relying on promauto's global registry).
type Metrics struct {
	Registry *prometheus.Registry

	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter

	AcksSent        prometheus.Counter
	PathValidations *prometheus.CounterVec
	KeyUpdates      prometheus.Counter

	HandshakeDuration prometheus.Histogram
}

// NewMetrics builds a Metrics bound to a fresh registry and registers
// every collector it owns.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "packets_sent_total",
			Help:      "Packets written to the wire, by encryption level.",
		}, []string{"level"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "packets_received_total",
			Help:      "Packets accepted from the wire, by encryption level.",
		}, []string{"level"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "packets_dropped_total",
			Help:      "Packets discarded before a connection could process them, by reason.",
		}, []string{"reason"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "bytes_sent_total",
			Help:      "UDP payload bytes written to the wire.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "bytes_received_total",
			Help:      "UDP payload bytes read from the wire.",
		}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "acks_sent_total",
			Help:      "ACK frames queued for transmission.",
		}),
		PathValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "path_validations_total",
			Help:      "Path validation attempts, by outcome.",
		}, []string{"outcome"}),
		KeyUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "key_updates_total",
			Help:      "1-RTT key phase updates completed, locally or peer-initiated.",
		}),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quince",
			Name:      "handshake_duration_seconds",
			Help:      "Time from connection creation to the handshake-confirmed transition.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.PacketsSent, m.PacketsReceived, m.PacketsDropped,
		m.BytesSent, m.BytesReceived,
		m.AcksSent, m.PathValidations, m.KeyUpdates,
		m.HandshakeDuration,
	)
	return m
}

// ObserveHandshake records the wall-clock duration between a connection's
// creation and its handshake being confirmed.
func (m *Metrics) ObserveHandshake(start time.Time) {
	if m == nil {
		return
	}
	m.HandshakeDuration.Observe(time.Since(start).Seconds())
}
