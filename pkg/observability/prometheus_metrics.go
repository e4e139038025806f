package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsClient implements MetricsClient backed by
// github.com/prometheus/client_golang, registering vectors lazily per
// metric name the first time they're used.
type PrometheusMetricsClient struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a client registered against registry
// (pass prometheus.NewRegistry() for isolated tests, or a shared registry
// wired to a promhttp handler in production).
func NewPrometheusMetricsClient(namespace string, registry *prometheus.Registry) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (c *PrometheusMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      name,
		}, labelNames(labels))
		c.registry.MustRegister(vec)
		c.counters[name] = vec
	}
	vec.With(labels).Add(value)
}

func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      name,
		}, labelNames(labels))
		c.registry.MustRegister(vec)
		c.gauges[name] = vec
	}
	vec.With(labels).Set(value)
}

func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      name,
		}, labelNames(labels))
		c.registry.MustRegister(vec)
		c.histograms[name] = vec
	}
	vec.With(labels).Observe(value)
}

func (c *PrometheusMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	c.RecordHistogram(name, duration.Seconds(), labels)
}

func (c *PrometheusMetricsClient) Close() error { return nil }
