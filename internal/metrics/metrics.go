// Package metrics holds the host's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	PTYSessions     prometheus.Gauge
	Watches         prometheus.Gauge
	WatchErrors     *prometheus.CounterVec
	WaitingSessions prometheus.Gauge
	WSConnections   prometheus.Gauge
	WSMessages      *prometheus.CounterVec
}

// New creates the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_requests_total",
				Help: "Commands received, by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		PTYSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ptyhost_pty_sessions",
				Help: "Live PTY sessions",
			},
		),
		Watches: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ptyhost_watches",
				Help: "Active directory watches",
			},
		),
		WatchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_watch_errors_total",
				Help: "Watcher errors, by kind",
			},
			[]string{"kind"},
		),
		WaitingSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ptyhost_waiting_sessions",
				Help: "Background sessions waiting for input",
			},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ptyhost_ws_connections",
				Help: "Connected UI clients",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_ws_messages_total",
				Help: "Websocket messages, by direction",
			},
			[]string{"direction"},
		),
	}
}

// ObserveRequest counts one gateway decision.
func (m *Metrics) ObserveRequest(command, outcome string) {
	m.RequestsTotal.WithLabelValues(command, outcome).Inc()
}

// SetWatches records the number of active watches.
func (m *Metrics) SetWatches(n int) {
	m.Watches.Set(float64(n))
}

// WatchError counts one watcher error.
func (m *Metrics) WatchError(kind string) {
	m.WatchErrors.WithLabelValues(kind).Inc()
}

// SetConnections records the number of connected UI clients.
func (m *Metrics) SetConnections(n int) {
	m.WSConnections.Set(float64(n))
}

// Message counts one websocket message in direction "in" or "out".
func (m *Metrics) Message(direction string) {
	m.WSMessages.WithLabelValues(direction).Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
