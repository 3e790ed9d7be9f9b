// Package prommetrics exports observer counters and histograms to
// Prometheus.
package prommetrics

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-dispatch/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Labels is the fixed label set for every dispatch metric. Tags outside it
// are dropped and missing ones are exported empty.
var Labels = []string{"operation", "status", "kind", "route_path", "schedule_id", "workspace_id", "outcome"}

var durationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

type Recorder struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewRecorder(registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(prometheus.NewGoCollector())
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	return &Recorder{
		registry:   registry,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	counter, err := r.counter(MetricName(name))
	if err != nil {
		return
	}
	counter.WithLabelValues(labelValues(tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	histogram, err := r.histogram(MetricName(name))
	if err != nil {
		return
	}
	histogram.WithLabelValues(labelValues(tags)...).Observe(value)
}

func (r *Recorder) counter(name string) (*prometheus.CounterVec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[name]; ok {
		return existing, nil
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: "dispatch counter " + name}, Labels)
	if err := r.registry.Register(vec); err != nil {
		return nil, err
	}
	r.counters[name] = vec
	return vec, nil
}

func (r *Recorder) histogram(name string) (*prometheus.HistogramVec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[name]; ok {
		return existing, nil
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    "dispatch histogram " + name,
		Buckets: durationBuckets,
	}, Labels)
	if err := r.registry.Register(vec); err != nil {
		return nil, err
	}
	r.histograms[name] = vec
	return vec, nil
}

// MetricName maps "dispatch.ingress.admit.total" to
// "dispatch_ingress_admit_total".
func MetricName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for i, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_', ch == ':':
			b.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(ch)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func labelValues(tags map[string]string) []string {
	values := make([]string, len(Labels))
	for i, label := range Labels {
		values[i] = tags[label]
	}
	return values
}

var _ core.MetricsRecorder = (*Recorder)(nil)
