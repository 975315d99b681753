package platform

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics owns the platform's Prometheus registry and the collectors the
// core and the modules publish into. Counters only grow; gauges are
// clamped so unbalanced updates can never report negative values.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestErrorsTotal *prometheus.CounterVec
	moduleUp           *prometheus.GaugeVec
	modulesActive      prometheus.Gauge
	subscriptions      prometheus.Gauge
	deltasTotal        prometheus.Counter
	droppedTotal       prometheus.Counter
	healthChecksTotal  prometheus.Counter

	subMu    sync.Mutex
	subCount int64
}

// NewMetrics builds a registry with the platform collectors plus the
// standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homey_requests_total",
			Help: "Gateway requests dispatched, by module.",
		}, []string{"module"}),
		requestErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homey_request_errors_total",
			Help: "Gateway requests that ended in an error response, by module and status code.",
		}, []string{"module", "code"}),
		moduleUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homey_module_up",
			Help: "Whether the module is in the Active state (1) or not (0).",
		}, []string{"module"}),
		modulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homey_modules_active",
			Help: "Number of modules currently in the Active state.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homey_realtime_subscriptions",
			Help: "Open realtime subscriptions.",
		}),
		deltasTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homey_realtime_deltas_total",
			Help: "Realtime deltas delivered to subscribers.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homey_realtime_dropped_total",
			Help: "Realtime messages dropped due to slow consumers or throttling.",
		}),
		healthChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homey_health_checks_total",
			Help: "Module status checks performed by the health aggregator.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestErrorsTotal,
		m.moduleUp,
		m.modulesActive,
		m.subscriptions,
		m.deltasTotal,
		m.droppedTotal,
		m.healthChecksTotal,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncRequest counts one dispatched gateway request.
func (m *Metrics) IncRequest(module string) {
	m.requestsTotal.WithLabelValues(module).Inc()
}

// IncRequestError counts one errored gateway request by HTTP status code.
func (m *Metrics) IncRequestError(module, code string) {
	m.requestErrorsTotal.WithLabelValues(module, code).Inc()
}

// SetModuleUp records whether the module is active.
func (m *Metrics) SetModuleUp(module string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.moduleUp.WithLabelValues(module).Set(v)
}

// SetModulesActive records how many modules are active.
func (m *Metrics) SetModulesActive(n int) {
	if n < 0 {
		n = 0
	}
	m.modulesActive.Set(float64(n))
}

// SubscriptionOpened bumps the subscription gauge.
func (m *Metrics) SubscriptionOpened() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subCount++
	m.subscriptions.Set(float64(m.subCount))
}

// SubscriptionClosed lowers the subscription gauge, never below zero.
func (m *Metrics) SubscriptionClosed() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subCount > 0 {
		m.subCount--
	}
	m.subscriptions.Set(float64(m.subCount))
}

// AddDeltas counts delivered realtime deltas.
func (m *Metrics) AddDeltas(n int) {
	if n > 0 {
		m.deltasTotal.Add(float64(n))
	}
}

// IncDropped counts one dropped realtime message.
func (m *Metrics) IncDropped() {
	m.droppedTotal.Inc()
}

// IncHealthChecks counts one module status check.
func (m *Metrics) IncHealthChecks() {
	m.healthChecksTotal.Inc()
}
