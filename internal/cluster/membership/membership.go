// Package membership discovers cluster peers over memberlist gossip and
// feeds them to a Raft node as voters: a join callback adds the peer as
// a voter directly, since this cluster's only replicated state is the
// document store the Raft log already drives, not a separately gossiped
// shard map.
package membership

import (
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/hashicorp/memberlist"

	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

// Discovery wraps memberlist's gossip protocol for peer discovery.
type Discovery struct {
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     logger.Logger
	shutdown   atomic.Bool

	clusterID string

	onJoin   func(nodeID, raftAddr string)
	onLeave  func(nodeID string)
	onUpdate func(nodeID string)
}

// Config configures the discovery mechanism.
type Config struct {
	NodeID    string
	ClusterID string
	BindAddr  string
	BindPort  int
	// RaftAddr is this node's Raft transport address, gossiped as
	// metadata so a joining peer's raft.AddVoter call knows where to
	// dial it.
	RaftAddr  string
	SeedNodes []string
	Logger    logger.Logger
}

// New creates and starts a Discovery instance, joining cfg.SeedNodes if
// given or starting in bootstrap mode otherwise.
func New(cfg Config) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort

	if cfg.RaftAddr != "" || cfg.ClusterID != "" {
		mlConfig.Delegate = &metadataDelegate{metadata: nodeMetadata{RaftAddr: cfg.RaftAddr, ClusterID: cfg.ClusterID}}
	}
	mlConfig.LogOutput = &logWriter{logger: cfg.Logger}

	d := &Discovery{config: mlConfig, logger: cfg.Logger, clusterID: cfg.ClusterID}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined cluster", "node_id", cfg.NodeID, "seed_nodes", cfg.SeedNodes, "joined_count", n)
	} else {
		cfg.Logger.Info("started discovery (bootstrap mode)", "node_id", cfg.NodeID)
	}
	return d, nil
}

// Members returns the current gossip membership list.
func (d *Discovery) Members() []*memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.Members()
}

// Leave gracefully announces departure from the cluster.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Leave(0); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}
	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops gossip membership.
func (d *Discovery) Shutdown() error {
	if !d.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	d.logger.Info("discovery shutdown complete")
	return nil
}

// OnJoin registers the callback invoked with (nodeID, raftAddr) when a
// peer joins the gossip ring — the server entry point wires this to
// raft.Node.AddVoter so a gossip join becomes cluster membership without
// a separate manual step.
func (d *Discovery) OnJoin(fn func(nodeID, raftAddr string)) { d.onJoin = fn }

// OnLeave registers the callback invoked with nodeID when a peer leaves.
func (d *Discovery) OnLeave(fn func(nodeID string)) { d.onLeave = fn }

// OnUpdate registers the callback invoked with nodeID on a metadata update.
func (d *Discovery) OnUpdate(fn func(nodeID string)) { d.onUpdate = fn }

// LocalNode returns this node's own gossip membership record.
func (d *Discovery) LocalNode() *memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.LocalNode()
}

type eventDelegate struct {
	discovery *Discovery
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	gossipAddr := net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))

	var metadata nodeMetadata
	if len(node.Meta) > 0 {
		if err := json.Unmarshal(node.Meta, &metadata); err != nil {
			e.discovery.logger.Error("failed to parse node metadata", "node_id", node.Name, "error", err)
			return
		}
	}

	if e.discovery.clusterID != "" && metadata.ClusterID != "" && metadata.ClusterID != e.discovery.clusterID {
		e.discovery.logger.Error("cluster id mismatch - rejecting node",
			"node_id", node.Name, "expected", e.discovery.clusterID, "actual", metadata.ClusterID)
		return
	}

	raftAddr := metadata.RaftAddr
	if raftAddr == "" {
		e.discovery.logger.Warn("node joined without raft metadata, using gossip address", "node_id", node.Name, "gossip_addr", gossipAddr)
		raftAddr = gossipAddr
	}

	e.discovery.logger.Info("node joined", "node_id", node.Name, "raft_addr", raftAddr)
	if e.discovery.onJoin != nil {
		e.discovery.onJoin(node.Name, raftAddr)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.logger.Info("node left", "node_id", node.Name)
	if e.discovery.onLeave != nil {
		e.discovery.onLeave(node.Name)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("node updated", "node_id", node.Name)
	if e.discovery.onUpdate != nil {
		e.discovery.onUpdate(node.Name)
	}
}

// logWriter adapts logger.Logger to io.Writer for memberlist's own
// internal logging.
type logWriter struct {
	logger logger.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

type nodeMetadata struct {
	RaftAddr  string `json:"raft_addr"`
	ClusterID string `json:"cluster_id"`
}

type metadataDelegate struct {
	metadata nodeMetadata
}

func (m *metadataDelegate) NodeMeta(limit int) []byte {
	data, err := json.Marshal(m.metadata)
	if err != nil {
		return nil
	}
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

func (m *metadataDelegate) NotifyMsg([]byte)                       {}
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (m *metadataDelegate) LocalState(join bool) []byte                { return nil }
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool)      {}
