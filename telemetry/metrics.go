package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// MetricsRegistry is a generic emission surface for component health
// metrics (queue depth, pool occupancy, circuit state, stream
// backpressure drops); no other package calls it. Grounded on the teacher's
// core.MetricsRegistry/FrameworkMetricsRegistry split that avoids a
// circular import between core and telemetry.
type MetricsRegistry interface {
	Counter(name string, labels ...string)
	Gauge(name string, value float64, labels ...string)
	Histogram(name string, value float64, labels ...string)
}

// OTelMetrics implements MetricsRegistry on top of an otel.Meter.
type OTelMetrics struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

func NewOTelMetrics(meter metric.Meter) *OTelMetrics {
	return &OTelMetrics{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *OTelMetrics) Counter(name string, labels ...string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c, _ = m.meter.Float64Counter(name)
		m.counters[name] = c
	}
	m.mu.Unlock()
	if c != nil {
		c.Add(context.Background(), 1, attrsOf(labels)...)
	}
}

func (m *OTelMetrics) Gauge(name string, value float64, labels ...string) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g, _ = m.meter.Float64Gauge(name)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	if g != nil {
		g.Record(context.Background(), value, attrsOf(labels)...)
	}
}

func (m *OTelMetrics) Histogram(name string, value float64, labels ...string) {
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		h, _ = m.meter.Float64Histogram(name)
		m.histograms[name] = h
	}
	m.mu.Unlock()
	if h != nil {
		h.Record(context.Background(), value, attrsOf(labels)...)
	}
}

// NoOpMetrics discards everything; the default until a Provider wires a
// real meter.
type NoOpMetrics struct{}

func (NoOpMetrics) Counter(string, ...string)            {}
func (NoOpMetrics) Gauge(string, float64, ...string)     {}
func (NoOpMetrics) Histogram(string, float64, ...string) {}

func attrsOf(labels []string) []metric.RecordOption {
	// labels are passed as ["key1", "val1", "key2", "val2", ...], but no
	// option is built from them: every label is dropped and measurements
	// carry no attributes.
	return nil
}
