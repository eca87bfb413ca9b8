package pulsar

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryMetrics is an in-memory Metrics implementation, useful for tests and
// for applications that poll metric values directly.
type MemoryMetrics struct {
	mu         sync.Mutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics sink.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}
}

// Counter returns the counter for the given name and labels, creating it if
// needed.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	key := metricKey(name, labels)
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	if !ok {
		c = &memoryCounter{}
		m.counters[key] = c
	}
	return c
}

// Gauge returns the gauge for the given name and labels, creating it if
// needed.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	key := metricKey(name, labels)
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gauges[key]
	if !ok {
		g = &memoryGauge{}
		m.gauges[key] = g
	}
	return g
}

// Histogram returns the histogram for the given name and labels, creating it
// if needed.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	key := metricKey(name, labels)
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[key]
	if !ok {
		h = &memoryHistogram{}
		m.histograms[key] = h
	}
	return h
}

// CounterValue returns the current value of a counter, or 0 if it does not
// exist.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[metricKey(name, labels)]; ok {
		return c.Value()
	}
	return 0
}

// GaugeValue returns the current value of a gauge, or 0 if it does not exist.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[metricKey(name, labels)]; ok {
		return g.Value()
	}
	return 0
}

func metricKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('{')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte('}')
	}
	return b.String()
}

type memoryCounter struct {
	mu    sync.Mutex
	value float64
}

func (c *memoryCounter) Inc() { c.Add(1) }

func (c *memoryCounter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

func (c *memoryCounter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type memoryGauge struct {
	mu    sync.Mutex
	value float64
}

func (g *memoryGauge) Set(value float64) {
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}

func (g *memoryGauge) Inc() { g.add(1) }
func (g *memoryGauge) Dec() { g.add(-1) }

func (g *memoryGauge) add(delta float64) {
	g.mu.Lock()
	g.value += delta
	g.mu.Unlock()
}

func (g *memoryGauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

type memoryHistogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
}

func (h *memoryHistogram) Observe(value float64) {
	h.mu.Lock()
	h.count++
	h.sum += value
	h.mu.Unlock()
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}
