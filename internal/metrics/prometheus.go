package metrics

import (
	"net/http"
	"sync"

	"github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "staking"

// InitializePrometheus makes Prometheus the metrics backend. Call it before
// any meter is used; later calls are no-ops.
func InitializePrometheus() {
	InitializePrometheusWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// InitializePrometheusWith is InitializePrometheus with an explicit registry.
func InitializePrometheusWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := backend.(*promBackend); ok {
		return
	}
	backend = &promBackend{reg: reg, gatherer: gatherer}
}

type promBackend struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	mu     sync.Mutex
	meters map[string]any
}

// getOrCreate returns the meter registered under name, creating it with f.
func (p *promBackend) getOrCreate(name string, f func() (prometheus.Collector, any)) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.meters[name]; ok {
		return m
	}
	collector, meter := f()
	if err := p.reg.Register(collector); err != nil {
		log.Node.Warn().Err(err).Str("metric", name).Msg("Unable to register metric")
	}
	if p.meters == nil {
		p.meters = make(map[string]any)
	}
	p.meters[name] = meter
	return meter
}

func (p *promBackend) Counter(name, help string) Counter {
	return p.getOrCreate(name, func() (prometheus.Collector, any) {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
		return c, c
	}).(Counter)
}

func (p *promBackend) CounterVec(name, help string, labels []string) CounterVec {
	return p.getOrCreate(name, func() (prometheus.Collector, any) {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
		return c, promCounterVec{c}
	}).(CounterVec)
}

func (p *promBackend) Gauge(name, help string) Gauge {
	return p.getOrCreate(name, func() (prometheus.Collector, any) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		return g, g
	}).(Gauge)
}

func (p *promBackend) HistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	return p.getOrCreate(name, func() (prometheus.Collector, any) {
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: name, Help: help, Buckets: buckets,
		}, labels)
		return h, promHistogramVec{h}
	}).(HistogramVec)
}

func (p *promBackend) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

type promCounterVec struct{ vec *prometheus.CounterVec }

func (c promCounterVec) AddWithLabels(v float64, labels map[string]string) {
	c.vec.With(labels).Add(v)
}

type promHistogramVec struct{ vec *prometheus.HistogramVec }

func (h promHistogramVec) ObserveWithLabels(v float64, labels map[string]string) {
	h.vec.With(labels).Observe(v)
}
