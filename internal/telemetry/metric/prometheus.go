package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric corestore-server exports, backed by its
// own prometheus.Registry rather than the global default one so tests
// can construct independent instances.
type Registry struct {
	reg *prometheus.Registry

	WritesTotal    *prometheus.CounterVec
	WriteDuration  *prometheus.HistogramVec
	QueriesTotal   *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec
	GCReclaimed    prometheus.Counter
	BlobStoreBytes prometheus.Counter
}

// NewRegistry builds and registers corestore-server's metric set.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		WritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corestore",
			Name:      "writes_total",
			Help:      "Document writes committed, by collection and outcome.",
		}, []string{"collection", "outcome"}),
		WriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corestore",
			Name:      "write_duration_seconds",
			Help:      "Write pipeline latency, by collection.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corestore",
			Name:      "queries_total",
			Help:      "Queries evaluated, by collection.",
		}, []string{"collection"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corestore",
			Name:      "query_duration_seconds",
			Help:      "Query evaluation latency, by collection.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
		GCReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corestore",
			Name:      "gc_bytes_reclaimed_total",
			Help:      "Cumulative bytes reclaimed by value-log GC passes.",
		}),
		BlobStoreBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corestore",
			Name:      "blob_store_bytes_total",
			Help:      "Cumulative bytes written to content-addressed blob storage.",
		}),
	}

	reg.MustRegister(r.WritesTotal, r.WriteDuration, r.QueriesTotal, r.QueryDuration, r.GCReclaimed, r.BlobStoreBytes)
	return r
}

// Register adds additional prometheus.Collectors (e.g. a Collector
// polling kv.Engine/raft.Node stats) to this registry.
func (r *Registry) Register(collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := r.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry's metrics in Prometheus text exposition
// format for adminserver to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
