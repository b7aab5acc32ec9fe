// Package telemetry exposes the Prometheus metrics askdb records. Every
// constructor falls back to a no-op when no registry is configured, so callers
// never need to check whether metrics are enabled.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "askdb"

type Counter interface {
	Inc()
	Add(float64)
}

type Histogram interface {
	Observe(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Observe(float64) {}

type noopCounterVec struct{}
type noopHistogramVec struct{}

func (noopCounterVec) With(...string) Counter     { return NoopStat{} }
func (noopHistogramVec) With(...string) Histogram { return NoopStat{} }

type prometheusCounterVec struct{ vec *prometheus.CounterVec }

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusHistogramVec struct{ vec *prometheus.HistogramVec }

func (p *prometheusHistogramVec) With(labelValues ...string) Histogram {
	return p.vec.WithLabelValues(labelValues...)
}

// Registry wraps an optional Prometheus registry. The zero value and nil are
// both disabled registries.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry returns an enabled registry with the process and Go runtime
// collectors installed.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Registry{reg: reg}
}

// Enabled reports whether metrics are collected.
func (r *Registry) Enabled() bool {
	return r != nil && r.reg != nil
}

// Gatherer exposes the underlying registry for tests and scrapers. It is nil
// when metrics are disabled.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if !r.Enabled() {
		return nil
	}

	return r.reg
}

func (r *Registry) NewCounterVec(name, help string, labels []string) CounterVec {
	if !r.Enabled() {
		return noopCounterVec{}
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
	r.reg.MustRegister(vec)

	return &prometheusCounterVec{vec: vec}
}

func (r *Registry) NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if !r.Enabled() {
		return noopHistogramVec{}
	}

	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	r.reg.MustRegister(vec)

	return &prometheusHistogramVec{vec: vec}
}

// Handler serves the registry in the Prometheus exposition format, or 404s
// when metrics are disabled.
func (r *Registry) Handler() http.Handler {
	if !r.Enabled() {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Metrics is the set of instruments the pipeline and its surfaces record.
type Metrics struct {
	// Statements counts statements by kind and outcome type.
	Statements CounterVec
	// StatementSeconds observes per-statement execution time by kind.
	StatementSeconds HistogramVec
	// Batches counts orchestrator calls by caller context and result.
	Batches CounterVec
	// LLMRequests counts generator calls by provider and result.
	LLMRequests CounterVec
	// HTTPRequests counts API requests by route and status code.
	HTTPRequests CounterVec
	// ToolCalls counts protocol tool invocations by tool and result.
	ToolCalls CounterVec
}

// NewMetrics registers the instruments on r. A disabled registry yields no-op
// instruments.
func NewMetrics(r *Registry) *Metrics {
	return &Metrics{
		Statements: r.NewCounterVec("statements_total",
			"Statements processed, by kind and outcome.", []string{"kind", "outcome"}),
		StatementSeconds: r.NewHistogramVec("statement_duration_seconds",
			"Statement execution time.", []string{"kind"}, prometheus.DefBuckets),
		Batches: r.NewCounterVec("batches_total",
			"Orchestrated SQL batches, by caller context and result.", []string{"caller", "result"}),
		LLMRequests: r.NewCounterVec("llm_requests_total",
			"SQL generation requests, by provider and result.", []string{"provider", "result"}),
		HTTPRequests: r.NewCounterVec("http_requests_total",
			"HTTP API requests, by route and status code.", []string{"route", "status"}),
		ToolCalls: r.NewCounterVec("tool_calls_total",
			"Protocol tool calls, by tool and result.", []string{"tool", "result"}),
	}
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	return NewMetrics(nil)
}
