// Package config defines the corestore-server configuration structure.
package config

import (
	"errors"
	"os"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyBlob(&cfg.Blob); err != nil {
		return err
	}
	if err := verifyCluster(&cfg.Cluster); err != nil {
		return err
	}
	if err := verifyAdmin(&cfg.Admin); err != nil {
		return err
	}
	return nil
}

func verifyAdmin(cfg *AdminSection) error {
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("admin.tls_cert_file and admin.tls_key_file must be set together")
	}
	if cfg.TLSClientCAFile != "" && cfg.TLSCertFile == "" {
		return errors.New("admin.tls_client_ca_file requires admin.tls_cert_file and admin.tls_key_file")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	if cfg.GCThreshold < 0 || cfg.GCThreshold > 1 {
		return errors.New("storage.gc_threshold must be between 0 and 1")
	}

	return nil
}

func verifyBlob(cfg *BlobSection) error {
	if cfg.BasePath == "" {
		return errors.New("blob.base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return errors.New("cannot create blob base path: " + err.Error())
	}
	return nil
}

func verifyCluster(cfg *ClusterSection) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.RaftBindAddr == "" {
		return errors.New("cluster.raft_addr is required when cluster.enabled is true")
	}
	if cfg.RaftDataDir == "" {
		return errors.New("cluster.raft_data_dir is required when cluster.enabled is true")
	}
	if !cfg.Bootstrap && len(cfg.Seeds) == 0 {
		return errors.New("cluster.seeds is required when cluster.bootstrap is false")
	}
	if cfg.ReplicationFactor < 1 {
		return errors.New("cluster.replication_factor must be at least 1")
	}
	return nil
}
