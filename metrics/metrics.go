// Package metrics exposes qerrors' Prometheus metrics: counters for error
// volume and queue rejections, gauges for live state, and the bounded
// circular-buffer histograms spec.md's C10 calls for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/qerrors/qerrors/collections"
)

// Metrics encapsulates qerrors' Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ErrorsTotal        prometheus.Counter
	ErrorsBySeverity   *prometheus.CounterVec
	AdviceCacheHits    prometheus.Counter
	AdviceCacheMisses  prometheus.Counter
	QueueRejectCapacity prometheus.Counter
	QueueRejectMemory   prometheus.Counter
	CircuitOpenTransitions prometheus.Counter
	RateLimitHits      prometheus.Counter
	HTTPRetries        prometheus.Counter
	HTTPFailuresByCode *prometheus.CounterVec
	LogDrops           prometheus.Counter

	QueueLength       prometheus.Gauge
	CacheEntries      prometheus.Gauge
	CacheBytes        prometheus.Gauge
	CircuitState      prometheus.Gauge
	MemoryHeapPercent prometheus.Gauge

	analysisDuration *collections.Ring
	httpDuration     *collections.Ring
}

const ringCapacity = 2048

// New builds a Metrics instance with its own registry, plus the default Go
// and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_errors_total",
			Help: "Total number of errors submitted to qerrors",
		}),
		ErrorsBySeverity: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qerrors_errors_by_severity_total",
			Help: "Total number of errors submitted, by severity",
		}, []string{"severity"}),
		AdviceCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_advice_cache_hits_total",
			Help: "Total number of advice cache hits",
		}),
		AdviceCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_advice_cache_misses_total",
			Help: "Total number of advice cache misses",
		}),
		QueueRejectCapacity: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_queue_reject_capacity_total",
			Help: "Total number of analysis requests rejected due to queue capacity",
		}),
		QueueRejectMemory: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_queue_reject_memory_total",
			Help: "Total number of analysis requests rejected due to memory pressure",
		}),
		CircuitOpenTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_circuit_open_transitions_total",
			Help: "Total number of times the circuit breaker transitioned to open",
		}),
		RateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_rate_limit_hits_total",
			Help: "Total number of per-fingerprint rate limit hits",
		}),
		HTTPRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_http_retries_total",
			Help: "Total number of HTTP retries issued to the analysis endpoint",
		}),
		HTTPFailuresByCode: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qerrors_http_failures_by_code_total",
			Help: "Total number of HTTP failures from the analysis endpoint, by status code",
		}, []string{"code"}),
		LogDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "qerrors_log_drop_total",
			Help: "Total number of log entries dropped due to queue overflow",
		}),

		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qerrors_queue_length",
			Help: "Current length of the analysis queue",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qerrors_cache_entries",
			Help: "Current number of entries in the advice cache",
		}),
		CacheBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qerrors_cache_bytes",
			Help: "Current number of bytes charged against the advice cache budget",
		}),
		CircuitState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qerrors_circuit_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
		MemoryHeapPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qerrors_memory_heap_used_percent",
			Help: "Current heap-used percentage observed by the memory pressure gate",
		}),

		analysisDuration: collections.NewRing(ringCapacity),
		httpDuration:     collections.NewRing(ringCapacity),
	}

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// ObserveAnalysisDuration records one analysis.duration_ms sample.
func (m *Metrics) ObserveAnalysisDuration(ms float64) { m.analysisDuration.Push(ms) }

// ObserveHTTPDuration records one http.request.duration_ms sample.
func (m *Metrics) ObserveHTTPDuration(ms float64) { m.httpDuration.Push(ms) }

// Percentiles is a read-time snapshot of a histogram's p50/p95/p99.
type Percentiles struct{ P50, P95, P99 float64 }

// AnalysisDurationPercentiles computes p50/p95/p99 over the current
// analysis-duration samples.
func (m *Metrics) AnalysisDurationPercentiles() Percentiles {
	return Percentiles{
		P50: m.analysisDuration.Percentile(50),
		P95: m.analysisDuration.Percentile(95),
		P99: m.analysisDuration.Percentile(99),
	}
}

// HTTPDurationPercentiles computes p50/p95/p99 over the current
// HTTP-request-duration samples.
func (m *Metrics) HTTPDurationPercentiles() Percentiles {
	return Percentiles{
		P50: m.httpDuration.Percentile(50),
		P95: m.httpDuration.Percentile(95),
		P99: m.httpDuration.Percentile(99),
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, e.g. for tests that gather it
// directly.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Snapshot is the JSON-serialisable counters/gauges/percentiles view
// GET /metrics returns per spec.md §4.11 (a plain Prometheus scrape is
// still available via Handler for operators who want one).
type Snapshot struct {
	Counters   map[string]float64     `json:"counters"`
	Gauges     map[string]float64     `json:"gauges"`
	Histograms map[string]Percentiles `json:"histograms"`
}

// Snapshot gathers the current value of every registered counter and gauge
// plus the read-time histogram percentiles.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Counters: make(map[string]float64),
		Gauges:   make(map[string]float64),
		Histograms: map[string]Percentiles{
			"analysis_duration_ms":    m.AnalysisDurationPercentiles(),
			"http_request_duration_ms": m.HTTPDurationPercentiles(),
		},
	}

	families, err := m.registry.Gather()
	if err != nil {
		return snap
	}

	for _, fam := range families {
		name := fam.GetName()
		for _, metric := range fam.GetMetric() {
			label := name
			if labels := metric.GetLabel(); len(labels) > 0 {
				for _, l := range labels {
					label = label + "." + l.GetValue()
				}
			}
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				snap.Counters[label] = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				snap.Gauges[label] = metric.GetGauge().GetValue()
			}
		}
	}

	return snap
}
