package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"coach-service/pkg/events"
)

// Metrics tracks connection and broadcast counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	connections  prometheus.Gauge
	registered   prometheus.Gauge
	pushes       *prometheus.CounterVec
	misses       *prometheus.CounterVec
	droppedSends prometheus.Counter
	rejected     *prometheus.CounterVec
	mirrorSkips  prometheus.Counter
	mirrorOpen   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "coach",
			Subsystem: "realtime",
			Name:      "open_connections",
			Help:      "WebSocket connections currently open.",
		}),
		registered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "coach",
			Subsystem: "realtime",
			Name:      "registered_users",
			Help:      "Users holding a presence record.",
		}),
		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "realtime",
			Name:      "pushes_total",
			Help:      "Change events enqueued to a connection.",
		}, []string{"entity_type", "kind"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "realtime",
			Name:      "presence_misses_total",
			Help:      "Stakeholders with no live connection at broadcast time.",
		}, []string{"entity_type"}),
		droppedSends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "realtime",
			Name:      "dropped_sends_total",
			Help:      "Sends dropped because the connection was closed or its buffer was full.",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "realtime",
			Name:      "rejected_registrations_total",
			Help:      "Registration attempts rejected by the hub.",
		}, []string{"code"}),
		mirrorSkips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "realtime",
			Name:      "presence_mirror_skipped_total",
			Help:      "Presence mirror updates skipped while the Redis circuit was open.",
		}),
		mirrorOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "coach",
			Subsystem: "realtime",
			Name:      "presence_mirror_circuit_open",
			Help:      "1 while presence mirror writes are suspended.",
		}),
	}
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) setRegistered(n int) {
	if m != nil {
		m.registered.Set(float64(n))
	}
}

func (m *Metrics) pushed(entityType events.EntityType, kind events.Kind) {
	if m != nil {
		m.pushes.WithLabelValues(string(entityType), string(kind)).Inc()
	}
}

func (m *Metrics) missed(entityType events.EntityType) {
	if m != nil {
		m.misses.WithLabelValues(string(entityType)).Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.droppedSends.Inc()
	}
}

func (m *Metrics) rejectedRegistration(code string) {
	if m != nil {
		m.rejected.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) mirrorSkipped() {
	if m != nil {
		m.mirrorSkips.Inc()
	}
}

func (m *Metrics) setMirrorCircuit(open bool) {
	if m == nil {
		return
	}
	if open {
		m.mirrorOpen.Set(1)
	} else {
		m.mirrorOpen.Set(0)
	}
}
