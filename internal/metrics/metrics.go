package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing, so components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Agent metrics
	TurnsTotal    *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
	ToolCallTotal *prometheus.CounterVec

	// Model client metrics
	ModelCallsTotal     *prometheus.CounterVec
	CredentialRotations prometheus.Counter

	// Pharmacy metrics
	OrdersTotal  *prometheus.CounterVec
	RefillAlerts prometheus.Gauge
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmacy_agent_turns_total",
				Help: "Total number of conversation turns by outcome",
			},
			[]string{"status"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pharmacy_agent_turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ToolCallTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmacy_agent_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),
		ModelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmacy_model_calls_total",
				Help: "Total number of model invocations per credential slot",
			},
			[]string{"key_index", "status"},
		),
		CredentialRotations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pharmacy_model_credential_rotations_total",
				Help: "Number of times the model client advanced to the next credential",
			},
		),
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmacy_orders_total",
				Help: "Order placement attempts by outcome",
			},
			[]string{"outcome"},
		),
		RefillAlerts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pharmacy_refill_alerts",
				Help: "Number of refill alerts produced by the latest predictive scan",
			},
		),
	}

	registry.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.ToolCallTotal,
		m.ModelCallsTotal,
		m.CredentialRotations,
		m.OrdersTotal,
		m.RefillAlerts,
	)

	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveTurn(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallTotal.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RecordModelCall(keyIndex, status string) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(keyIndex, status).Inc()
}

func (m *Metrics) RecordRotation() {
	if m == nil {
		return
	}
	m.CredentialRotations.Inc()
}

func (m *Metrics) RecordOrder(outcome string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetRefillAlerts(n int) {
	if m == nil {
		return
	}
	m.RefillAlerts.Set(float64(n))
}
