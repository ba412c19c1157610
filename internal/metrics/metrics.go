// Package metrics records lifecycle and cache metrics. Implementations may
// forward to Prometheus; the NoopRecorder serves tests and disabled setups.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the observability hook used by the engine and the HTTP layer.
type Recorder interface {
	IncOperation(kind, outcome string)
	ObserveOperationDuration(kind string, d time.Duration)
	IncCacheHit(key string)
	IncCacheMiss(key string)
	IncRollback()
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

func (NoopRecorder) IncOperation(string, string)                    {}
func (NoopRecorder) ObserveOperationDuration(string, time.Duration) {}
func (NoopRecorder) IncCacheHit(string)                             {}
func (NoopRecorder) IncCacheMiss(string)                            {}
func (NoopRecorder) IncRollback()                                   {}

// PrometheusRecorder implements Recorder on a dedicated registry.
type PrometheusRecorder struct {
	registry          *prom.Registry
	operations        *prom.CounterVec
	operationDuration *prom.HistogramVec
	cacheHits         *prom.CounterVec
	cacheMisses       *prom.CounterVec
	rollbacks         prom.Counter
}

func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prom.NewRegistry()
	r := &PrometheusRecorder{
		registry: registry,
		operations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "nasd",
			Name:      "plugin_operations_total",
			Help:      "Plugin lifecycle operations by kind and outcome",
		}, []string{"kind", "outcome"}),
		operationDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "nasd",
			Name:      "plugin_operation_duration_seconds",
			Help:      "Duration of plugin lifecycle operations",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		cacheHits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "nasd",
			Name:      "cache_hits_total",
			Help:      "Number of cache hits",
		}, []string{"key"}),
		cacheMisses: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "nasd",
			Name:      "cache_misses_total",
			Help:      "Number of cache misses",
		}, []string{"key"}),
		rollbacks: prom.NewCounter(prom.CounterOpts{
			Namespace: "nasd",
			Name:      "plugin_rollbacks_total",
			Help:      "Number of lifecycle operations that rolled back",
		}),
	}
	registry.MustRegister(r.operations, r.operationDuration, r.cacheHits, r.cacheMisses, r.rollbacks)
	return r
}

func (r *PrometheusRecorder) IncOperation(kind, outcome string) {
	r.operations.WithLabelValues(kind, outcome).Inc()
}

func (r *PrometheusRecorder) ObserveOperationDuration(kind string, d time.Duration) {
	r.operationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *PrometheusRecorder) IncCacheHit(key string)  { r.cacheHits.WithLabelValues(key).Inc() }
func (r *PrometheusRecorder) IncCacheMiss(key string) { r.cacheMisses.WithLabelValues(key).Inc() }
func (r *PrometheusRecorder) IncRollback()            { r.rollbacks.Inc() }

// Handler serves the registry for scraping.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
