package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/saiset-co/sai-pipeline/types"
)

// Pipeline holds the prometheus instruments the chain and its built-ins
// report into. A nil *Pipeline is valid and records nothing, so callers
// never have to guard their observe calls.
type Pipeline struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	chainHaltsTotal    *prometheus.CounterVec
	middlewareDuration *prometheus.HistogramVec
	limitRejected      prometheus.Counter
	accessRejected     prometheus.Counter
	staticHitsTotal    *prometheus.CounterVec
}

func NewPipeline(config *types.MetricsConfig) *Pipeline {
	if config == nil || !config.Enabled {
		return nil
	}

	namespace := config.Namespace
	if namespace == "" {
		namespace = "sai_pipeline"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &Pipeline{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests seen by the pipeline, labelled by final status code.",
		}, []string{"status"}),
		chainHaltsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_halts_total",
			Help:      "Chain short-circuits, labelled by the halting middleware.",
		}, []string{"middleware"}),
		middlewareDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "middleware_duration_seconds",
			Help:      "Per-middleware execution latency.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"middleware"}),
		limitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejected_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		accessRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_rejected_total",
			Help:      "Requests rejected by the access policy.",
		}),
		staticHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "static_hits_total",
			Help:      "Static files served, labelled by cache eligibility.",
		}, []string{"cached"}),
	}

	registry.MustRegister(
		p.requestsTotal,
		p.chainHaltsTotal,
		p.middlewareDuration,
		p.limitRejected,
		p.accessRejected,
		p.staticHitsTotal,
	)

	return p
}

func (p *Pipeline) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

func (p *Pipeline) ObserveRequest(status string) {
	if p == nil {
		return
	}
	p.requestsTotal.WithLabelValues(status).Inc()
}

func (p *Pipeline) ObserveHalt(middleware string) {
	if p == nil {
		return
	}
	p.chainHaltsTotal.WithLabelValues(middleware).Inc()
}

func (p *Pipeline) ObserveMiddleware(middleware string, start time.Time) {
	if p == nil {
		return
	}
	p.middlewareDuration.WithLabelValues(middleware).Observe(time.Since(start).Seconds())
}

func (p *Pipeline) ObserveLimitRejected() {
	if p == nil {
		return
	}
	p.limitRejected.Inc()
}

func (p *Pipeline) ObserveAccessRejected() {
	if p == nil {
		return
	}
	p.accessRejected.Inc()
}

func (p *Pipeline) ObserveStaticHit(cached bool) {
	if p == nil {
		return
	}
	if cached {
		p.staticHitsTotal.WithLabelValues("true").Inc()
		return
	}
	p.staticHitsTotal.WithLabelValues("false").Inc()
}
