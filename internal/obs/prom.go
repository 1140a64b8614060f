package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMeter bridges Meter to Prometheus. Each metric name becomes a
// vector registered on first use; its label names are fixed by the label
// keys of that first call. Later calls with a different label set are
// dropped rather than panicking.
type PromMeter struct {
	Namespace string
	Buckets   []float64

	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPromMeter returns a PromMeter registering on reg, or on
// prometheus.DefaultRegisterer when reg is nil.
func NewPromMeter(reg prometheus.Registerer, namespace string) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PromMeter{
		Namespace:  namespace,
		Buckets:    prometheus.DefBuckets,
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (m *PromMeter) Counter(name string, value float64, labels ...Label) {
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Name:      name,
			Help:      helpFor(name),
		}, labelNames(labels))
		vec = registerOrExisting(m.reg, vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()
	if c, err := vec.GetMetricWith(labelValues(labels)); err == nil {
		c.Add(value)
	}
}

func (m *PromMeter) Histogram(name string, value float64, labels ...Label) {
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.Namespace,
			Name:      name,
			Help:      helpFor(name),
			Buckets:   m.Buckets,
		}, labelNames(labels))
		vec = registerOrExisting(m.reg, vec)
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	if o, err := vec.GetMetricWith(labelValues(labels)); err == nil {
		o.Observe(value)
	}
}

func (m *PromMeter) Gauge(name string, delta float64, labels ...Label) {
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Name:      name,
			Help:      helpFor(name),
		}, labelNames(labels))
		vec = registerOrExisting(m.reg, vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	if g, err := vec.GetMetricWith(labelValues(labels)); err == nil {
		g.Add(delta)
	}
}

// registerOrExisting registers c, returning the already registered
// collector when an identical one exists (e.g. two meters sharing a
// registry).
func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func labelNames(labels []Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Key
	}
	return names
}

func labelValues(labels []Label) prometheus.Labels {
	vals := make(prometheus.Labels, len(labels))
	for _, l := range labels {
		vals[l.Key] = l.Value
	}
	return vals
}

func helpFor(name string) string {
	if h, ok := helpText[name]; ok {
		return h
	}
	return name
}

var helpText = map[string]string{
	"connections_total":        "Connections accepted.",
	"connections_active":       "Connections currently open.",
	"requests_total":           "Requests served, by method and status.",
	"request_duration_seconds": "Time from a complete request to its response being written.",
	"frame_errors_total":       "Requests rejected while framing, by status.",
	"timeouts_total":           "Connections closed by a timeout, by phase.",
	"accept_errors_total":      "Transient accept errors.",
	"handler_panics_total":     "Handler panics recovered.",
}
