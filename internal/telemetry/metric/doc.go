// Package metric provides the Prometheus metrics surface for
// corestore-server.
//
//   - prometheus.go: Registry (write/query counters and histograms,
//     GC/blob counters) and its /metrics HTTP handler
//   - collector.go: Collector, a prometheus.Collector polling
//     kv.Engine storage stats and raft.Node commit progress on scrape
//
// Metrics are exposed at /metrics in Prometheus text exposition format.
package metric
