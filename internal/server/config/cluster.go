// Package config defines the corestore-server configuration structure.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/nyxmail/corestore/internal/cluster/membership"
	clusterraft "github.com/nyxmail/corestore/internal/cluster/raft"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

// ToRaftConfig converts ServerConfig's cluster section into a
// clusterraft.Config, generating NodeID when unset.
func ToRaftConfig(cfg *ServerConfig, log logger.Logger) (clusterraft.Config, error) {
	if cfg == nil {
		return clusterraft.Config{}, fmt.Errorf("server config is nil")
	}

	nodeID := cfg.Cluster.NodeID
	if nodeID == "" {
		generated, err := generateNodeID()
		if err != nil {
			return clusterraft.Config{}, fmt.Errorf("generate node id: %w", err)
		}
		nodeID = generated
		log.Info("generated cluster node id", "node_id", nodeID)
	}

	return clusterraft.Config{
		NodeID:    nodeID,
		BindAddr:  cfg.Cluster.RaftBindAddr,
		DataDir:   cfg.Cluster.RaftDataDir,
		Bootstrap: cfg.Cluster.Bootstrap,
		Logger:    log,
	}, nil
}

// ToMembershipConfig converts ServerConfig's cluster section into a
// membership.Config sharing the same node id ToRaftConfig resolved.
func ToMembershipConfig(cfg *ServerConfig, nodeID string, log logger.Logger) membership.Config {
	return membership.Config{
		NodeID:    nodeID,
		ClusterID: cfg.Cluster.ClusterID,
		BindAddr:  cfg.Cluster.GossipBindAddr,
		BindPort:  cfg.Cluster.GossipBindPort,
		RaftAddr:  cfg.Cluster.RaftBindAddr,
		SeedNodes: cfg.Cluster.Seeds,
		Logger:    log,
	}
}

// generateNodeID generates a unique node identifier in the form
// "node-<16 hex chars>".
func generateNodeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "node-" + hex.EncodeToString(buf), nil
}
