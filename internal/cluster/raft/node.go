package raft

import (
	"fmt"
	"io"
	stdlog "log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/nyxmail/corestore/internal/store/write"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// Config configures a cluster Node.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
	Logger    logger.Logger
}

// Node wraps hashicorp/raft with the transport, BoltDB log store, and
// FSM wiring a replicated document store needs.
type Node struct {
	raft      *raft.Raft
	transport *raft.NetworkTransport
	fsm       *FSM
	config    *raft.Config
	logger    logger.Logger

	logStore      raft.LogStore
	stableStore   raft.StableStore
	snapshotStore raft.SnapshotStore

	leaderCh chan bool
}

// applyTimeout bounds how long Propose waits for a write to commit.
const applyTimeout = 5 * time.Second

// New creates a Node backed by fsm, opening (or creating) its BoltDB log
// and stable stores and file snapshot store under cfg.DataDir.
func New(cfg Config, fsm *FSM) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("raft: data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = &hcLogger{logger: cfg.Logger}

	raftConfig.HeartbeatTimeout = 1000 * time.Millisecond
	raftConfig.ElectionTimeout = 1000 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 500 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("create stable store: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 3, os.Stderr)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	leaderCh := make(chan bool, 10)
	raftConfig.NotifyCh = leaderCh

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("create raft: %w", err)
	}

	node := &Node{
		raft:          r,
		transport:     transport,
		fsm:           fsm,
		config:        raftConfig,
		logger:        cfg.Logger,
		logStore:      logStore,
		stableStore:   stableStore,
		snapshotStore: snapshotStore,
		leaderCh:      leaderCh,
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{{ID: raft.ServerID(cfg.NodeID), Address: transport.LocalAddr()}},
		}
		if f := r.BootstrapCluster(configuration); f.Error() != nil {
			node.Close()
			return nil, fmt.Errorf("bootstrap cluster: %w", f.Error())
		}
		cfg.Logger.Info("raft cluster bootstrapped", "node_id", cfg.NodeID, "addr", cfg.BindAddr)
	}

	cfg.Logger.Info("raft node created", "node_id", cfg.NodeID, "bind_addr", cfg.BindAddr, "bootstrap", cfg.Bootstrap)
	return node, nil
}

// Propose replicates cmd through the Raft log and waits for it to apply,
// returning the Changes the FSM produced on commit. It fails with
// storeerr.ErrNotLeader if this node isn't the current leader — callers
// should retry against Leader().
func (n *Node) Propose(cmd Command) (*write.Changes, error) {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return nil, storeerr.ErrInternal.WithCause(err)
	}

	f := n.raft.Apply(data, applyTimeout)
	if err := f.Error(); err != nil {
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return nil, storeerr.ErrNotLeader.WithCause(err)
		}
		return nil, storeerr.ErrClusterUnstable.WithCause(err)
	}

	switch resp := f.Response().(type) {
	case error:
		return nil, resp
	case *write.Changes:
		return resp, nil
	default:
		return nil, storeerr.ErrInternal.WithDetails("unexpected raft apply response")
	}
}

func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

func (n *Node) Leader() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

func (n *Node) LeaderID() string {
	_, id := n.raft.LeaderWithID()
	return string(id)
}

func (n *Node) AddVoter(nodeID, addr string, timeout time.Duration) error {
	f := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	return nil
}

func (n *Node) RemoveServer(nodeID string, timeout time.Duration) error {
	f := n.raft.RemoveServer(raft.ServerID(nodeID), 0, timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

// Snapshot triggers a Raft snapshot, collapsing the log up to the
// snapshotted index via hashicorp/raft's own log truncation rather than
// a hand-rolled one.
func (n *Node) Snapshot() error {
	f := n.raft.Snapshot()
	if err := f.Error(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

func (n *Node) GetConfiguration() (*raft.Configuration, error) {
	f := n.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	cfg := f.Configuration()
	return &cfg, nil
}

func (n *Node) LeaderCh() <-chan bool { return n.leaderCh }

func (n *Node) Stats() map[string]string { return n.raft.Stats() }

// LastIndex returns the index of the last log entry this node has
// stored, i.e. get_last_log(), read straight from raft's own LogStore
// rather than scanning the KV engine's RaftLog family — hashicorp/raft
// already tracks this, and every commit observed through Apply is mirrored
// into the RaftLog family for the cursor operations below.
func (n *Node) LastIndex() uint64 { return n.raft.LastIndex() }

func (n *Node) Close() error {
	n.logger.Info("shutting down raft node")
	if err := n.raft.Shutdown().Error(); err != nil {
		n.logger.Error("raft shutdown failed", "error", err)
	}
	if s, ok := n.stableStore.(*raftboltdb.BoltStore); ok {
		if err := s.Close(); err != nil {
			n.logger.Error("close stable store failed", "error", err)
		}
	}
	if s, ok := n.logStore.(*raftboltdb.BoltStore); ok {
		if err := s.Close(); err != nil {
			n.logger.Error("close log store failed", "error", err)
		}
	}
	if err := n.transport.Close(); err != nil {
		n.logger.Error("close transport failed", "error", err)
	}
	close(n.leaderCh)
	n.logger.Info("raft node shutdown complete")
	return nil
}

// hcLogger adapts internal/telemetry/logger.Logger to hashicorp/go-hclog.Logger.
// The Logger interface already matches hclog's (msg string, args ...any)
// shape, so the bridge is thin.
type hcLogger struct {
	logger logger.Logger
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.logger.Debug(msg, args...)
	case hclog.Warn:
		l.logger.Warn(msg, args...)
	case hclog.Error:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *hcLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *hcLogger) IsTrace() bool { return false }
func (l *hcLogger) IsDebug() bool { return false }
func (l *hcLogger) IsInfo() bool  { return true }
func (l *hcLogger) IsWarn() bool  { return true }
func (l *hcLogger) IsError() bool { return true }

func (l *hcLogger) ImpliedArgs() []any            { return nil }
func (l *hcLogger) With(args ...any) hclog.Logger { return l }
func (l *hcLogger) Name() string                  { return "raft" }
func (l *hcLogger) Named(name string) hclog.Logger      { return l }
func (l *hcLogger) ResetNamed(name string) hclog.Logger { return l }
func (l *hcLogger) SetLevel(level hclog.Level)          {}
func (l *hcLogger) GetLevel() hclog.Level               { return hclog.Info }
func (l *hcLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *stdlog.Logger {
	return stdlog.New(io.Discard, "", 0)
}
func (l *hcLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return io.Discard
}
