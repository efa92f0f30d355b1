package adminserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nyxmail/corestore/internal/cluster/raft"
	"github.com/nyxmail/corestore/internal/infra/buildinfo"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

// Handler serves the process's health, status, and maintenance surface.
type Handler struct {
	engine kv.Engine
	node   *raft.Node // nil on a single-node deployment
	logger logger.Logger
}

// New wires a Handler. node is nil when Cluster.Enabled is false.
func New(engine kv.Engine, node *raft.Node, log logger.Logger) *Handler {
	return &Handler{engine: engine, node: node, logger: log}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response body", "error", err)
	}
}

// Health handles GET /health — liveness only, no dependency checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready — readiness, backed by an engine stats probe.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.engine.Stats(ctx); err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StatusSummary handles GET /admin/v1/status/summary.
func (h *Handler) StatusSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.engine.Stats(ctx)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	summary := map[string]any{
		"status": "running",
		"build":  buildinfo.Get(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"storage": map[string]any{
			"total_size_bytes":    stats.TotalSize,
			"lsm_size_bytes":      stats.LSMSize,
			"value_log_bytes":     stats.ValueLogSize,
			"last_gc_time":        stats.LastGCTime,
			"gc_bytes_reclaimed":  stats.GCBytesReclaimed,
		},
		"clustered": h.node != nil,
	}
	if h.node != nil {
		summary["cluster"] = map[string]any{
			"is_leader":  h.node.IsLeader(),
			"leader":     h.node.Leader(),
			"last_index": h.node.LastIndex(),
		}
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GCTrigger handles POST /admin/v1/gc/trigger, running a foreground
// value-log GC pass on the KV engine.
func (h *Handler) GCTrigger(w http.ResponseWriter, r *http.Request) {
	reclaimed, err := h.engine.GC(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"bytes_reclaimed":     reclaimed,
		"triggered_at":        time.Now().UTC().Format(time.RFC3339),
	})
}

// ClusterNodes handles GET /admin/v1/cluster/nodes.
func (h *Handler) ClusterNodes(w http.ResponseWriter, r *http.Request) {
	if h.node == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"clustered": false, "nodes": []string{}})
		return
	}
	cfg, err := h.node.GetConfiguration()
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	servers := make([]map[string]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, map[string]string{"id": string(s.ID), "address": string(s.Address)})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"clustered": true, "nodes": servers})
}

// RaftSnapshot handles POST /admin/v1/cluster/snapshot, forcing an
// immediate Raft snapshot+log-compaction cycle.
func (h *Handler) RaftSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.node == nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not running in clustered mode"})
		return
	}
	if err := h.node.Snapshot(); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
