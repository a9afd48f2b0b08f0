// Package metrics holds the Prometheus collectors for sync and relay traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	ReconcileOutcomes *prometheus.CounterVec
	OutboxPending     prometheus.Gauge
	OutboxDeliveries  *prometheus.CounterVec
	RelayRequests     *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ReconcileOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_reconcile_outcomes_total",
			Help: "Inbound notifications by kind and reconciliation outcome.",
		}, []string{"kind", "outcome"}),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_outbox_pending",
			Help: "Relay writes waiting in the local outbox.",
		}),
		OutboxDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_outbox_deliveries_total",
			Help: "Outbox delivery attempts by outcome.",
		}, []string{"outcome"}),
		RelayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_relay_requests_total",
			Help: "Relay server requests by method and status code.",
		}, []string{"method", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
