package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Operation metrics
	OperationCalls    *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Ability metrics
	AbilityTransitions *prometheus.CounterVec
	AbilityTimeouts    *prometheus.CounterVec
	AbilityRecords     prometheus.Gauge
	DataAcquires       *prometheus.CounterVec

	// Form metrics
	FormsCached         prometheus.Gauge
	FormRecords         prometheus.Gauge
	ProviderConnections prometheus.Gauge
	ProviderCalls       *prometheus.CounterVec

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON diagnostics endpoint
type Snapshot struct {
	TotalRequests       int64
	TotalErrors         int64
	FormsCached         int64
	FormRecords         int64
	AbilityRecords      int64
	ProviderConnections int64
}

// NewMetrics creates a metrics collector backed by its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framework_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framework_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		OperationCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framework_operation_calls_total",
				Help: "Service operations by outcome",
			},
			[]string{"service", "operation", "result"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framework_operation_duration_seconds",
				Help:    "Service operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 11},
			},
			[]string{"service", "operation"},
		),

		AbilityTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framework_ability_transitions_total",
				Help: "Ability lifecycle transitions by target state",
			},
			[]string{"state"},
		),
		AbilityTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framework_ability_timeouts_total",
				Help: "Ability lifecycle timeouts by phase",
			},
			[]string{"phase"},
		),
		AbilityRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "framework_ability_records",
				Help: "Number of live ability records",
			},
		),
		DataAcquires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framework_data_ability_acquires_total",
				Help: "Data ability acquires by outcome",
			},
			[]string{"result"},
		),

		FormsCached: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "framework_forms_cached",
				Help: "Number of forms with cached content",
			},
		),
		FormRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "framework_form_records",
				Help: "Number of in-memory form records",
			},
		),
		ProviderConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "framework_provider_connections",
				Help: "Live one-shot provider connections",
			},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framework_provider_calls_total",
				Help: "Provider calls by kind and outcome",
			},
			[]string{"kind", "result"},
		),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordOperation records a service operation
func (m *Metrics) RecordOperation(service, operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationCalls.WithLabelValues(service, operation, result).Inc()
	m.OperationDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordTransition records an ability lifecycle transition
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.AbilityTransitions.WithLabelValues(state).Inc()
}

// RecordTimeout records a lifecycle timeout
func (m *Metrics) RecordTimeout(phase string) {
	if m == nil {
		return
	}
	m.AbilityTimeouts.WithLabelValues(phase).Inc()
}

// RecordDataAcquire records a data ability acquire outcome
func (m *Metrics) RecordDataAcquire(result string) {
	if m == nil {
		return
	}
	m.DataAcquires.WithLabelValues(result).Inc()
}

// RecordProviderCall records a provider-facing call
func (m *Metrics) RecordProviderCall(kind, result string) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(kind, result).Inc()
}

// SetAbilityRecords sets the live ability record count
func (m *Metrics) SetAbilityRecords(count int) {
	if m == nil {
		return
	}
	m.AbilityRecords.Set(float64(count))
	m.mu.Lock()
	m.snapshot.AbilityRecords = int64(count)
	m.mu.Unlock()
}

// SetFormsCached sets the cached form count
func (m *Metrics) SetFormsCached(count int) {
	if m == nil {
		return
	}
	m.FormsCached.Set(float64(count))
	m.mu.Lock()
	m.snapshot.FormsCached = int64(count)
	m.mu.Unlock()
}

// SetFormRecords sets the in-memory form record count
func (m *Metrics) SetFormRecords(count int) {
	if m == nil {
		return
	}
	m.FormRecords.Set(float64(count))
	m.mu.Lock()
	m.snapshot.FormRecords = int64(count)
	m.mu.Unlock()
}

// SetProviderConnections sets the live connection count
func (m *Metrics) SetProviderConnections(count int) {
	if m == nil {
		return
	}
	m.ProviderConnections.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ProviderConnections = int64(count)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
