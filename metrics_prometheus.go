package pulsar

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics exposes client metrics through a Prometheus registry.
type PrometheusMetrics struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates a metrics sink registering with the given
// registerer. Pass prometheus.DefaultRegisterer to use the process-global
// registry.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		registerer: registerer,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Counter returns a counter metric backed by a Prometheus counter.
func (m *PrometheusMetrics) Counter(name string, labels MetricLabels) Counter {
	names, values := splitLabels(labels)
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: "pulsar client counter " + name,
		}, names)
		m.registerer.MustRegister(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()
	return &promCounter{c: vec.WithLabelValues(values...)}
}

// Gauge returns a gauge metric backed by a Prometheus gauge.
func (m *PrometheusMetrics) Gauge(name string, labels MetricLabels) Gauge {
	names, values := splitLabels(labels)
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: "pulsar client gauge " + name,
		}, names)
		m.registerer.MustRegister(vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	return &promGauge{g: vec.WithLabelValues(values...)}
}

// Histogram returns a histogram metric backed by a Prometheus histogram with
// default buckets.
func (m *PrometheusMetrics) Histogram(name string, labels MetricLabels) Histogram {
	names, values := splitLabels(labels)
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    "pulsar client histogram " + name,
			Buckets: prometheus.DefBuckets,
		}, names)
		m.registerer.MustRegister(vec)
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	return &promHistogram{h: vec.WithLabelValues(values...)}
}

func splitLabels(labels MetricLabels) ([]string, []string) {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	// deterministic label order per metric name
	sort.Strings(names)
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = labels[k]
	}
	return names, values
}

type promCounter struct {
	c prometheus.Counter

	mu    sync.Mutex
	value float64
}

func (c *promCounter) Inc() { c.Add(1) }

func (c *promCounter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.c.Add(delta)
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

func (c *promCounter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type promGauge struct {
	g prometheus.Gauge

	mu    sync.Mutex
	value float64
}

func (g *promGauge) Set(value float64) {
	g.g.Set(value)
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}

func (g *promGauge) Inc() {
	g.g.Inc()
	g.mu.Lock()
	g.value++
	g.mu.Unlock()
}

func (g *promGauge) Dec() {
	g.g.Dec()
	g.mu.Lock()
	g.value--
	g.mu.Unlock()
}

func (g *promGauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

type promHistogram struct {
	h prometheus.Observer
}

func (h *promHistogram) Observe(value float64) { h.h.Observe(value) }

func (h *promHistogram) ObserveDuration(d time.Duration) { h.h.Observe(d.Seconds()) }
