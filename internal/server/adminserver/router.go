package adminserver

import (
	"net/http"

	"github.com/nyxmail/corestore/internal/cluster/raft"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
	"github.com/nyxmail/corestore/internal/telemetry/metric"
)

// NewRouter builds the admin/health http.Handler, wrapping every route in
// the RequestID/Recover/RequestLog middleware chain. metrics may be nil,
// in which case /metrics is not mounted.
func NewRouter(engine kv.Engine, node *raft.Node, metrics *metric.Registry, log logger.Logger) http.Handler {
	h := New(engine, node, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /admin/v1/status/summary", h.StatusSummary)
	mux.HandleFunc("POST /admin/v1/gc/trigger", h.GCTrigger)
	mux.HandleFunc("GET /admin/v1/cluster/nodes", h.ClusterNodes)
	mux.HandleFunc("POST /admin/v1/cluster/snapshot", h.RaftSnapshot)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	return Chain(mux, RequestID(), RequestLog(log), Recover(log))
}
