package pulsar

import (
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics defines the interface for collecting client metrics.
//
// The client records, among others: connections opened/closed, frames
// read/written, messages and batches sent, send receipts, messages
// received, acks sent and redelivery requests.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()

	// Add adds the given value to the counter.
	Add(delta float64)

	// Value returns the current value.
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	// Set sets the gauge to the given value.
	Set(value float64)

	// Inc increments the gauge by 1.
	Inc()

	// Dec decrements the gauge by 1.
	Dec()

	// Value returns the current value.
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	// Observe records a value.
	Observe(value float64)

	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)
}

// NoOpMetrics discards all metrics.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a metrics sink that discards everything.
func NewNoOpMetrics() *NoOpMetrics { return &NoOpMetrics{} }

// Counter returns a no-op counter.
func (m *NoOpMetrics) Counter(string, MetricLabels) Counter { return noOpMetric{} }

// Gauge returns a no-op gauge.
func (m *NoOpMetrics) Gauge(string, MetricLabels) Gauge { return noOpMetric{} }

// Histogram returns a no-op histogram.
func (m *NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpMetric{} }

type noOpMetric struct{}

func (noOpMetric) Inc()                           {}
func (noOpMetric) Add(float64)                    {}
func (noOpMetric) Set(float64)                    {}
func (noOpMetric) Dec()                           {}
func (noOpMetric) Value() float64                 { return 0 }
func (noOpMetric) Observe(float64)                {}
func (noOpMetric) ObserveDuration(time.Duration)  {}
