// Package config defines the corestore-server configuration structure.
package config

import (
	"os"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Storage.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.Storage.DataDir, DefaultDataDir)
	}
	if cfg.Storage.GCInterval != DefaultGCInterval {
		t.Errorf("GCInterval = %v, want %v", cfg.Storage.GCInterval, DefaultGCInterval)
	}
	if cfg.Blob.BasePath != DefaultBlobBasePath {
		t.Errorf("Blob.BasePath = %q, want %q", cfg.Blob.BasePath, DefaultBlobBasePath)
	}
	if cfg.FullText.DefaultLanguage != DefaultFullTextLanguage {
		t.Errorf("FullText.DefaultLanguage = %q, want %q", cfg.FullText.DefaultLanguage, DefaultFullTextLanguage)
	}
	if cfg.Cluster.Enabled {
		t.Error("Cluster should be disabled by default")
	}
	if cfg.Cluster.RaftBindAddr != DefaultRaftAddr {
		t.Errorf("Cluster.RaftBindAddr = %q, want %q", cfg.Cluster.RaftBindAddr, DefaultRaftAddr)
	}
	if cfg.Cluster.ReplicationFactor != DefaultReplicationFactor {
		t.Errorf("Cluster.ReplicationFactor = %d, want %d", cfg.Cluster.ReplicationFactor, DefaultReplicationFactor)
	}
	if cfg.Admin.Addr != DefaultAdminAddr {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, DefaultAdminAddr)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, DefaultLogFormat)
	}
}

func TestSanitize(t *testing.T) {
	cfg := &ServerConfig{
		Cluster: ClusterSection{
			GossipSecretKey: "super-secret-key-1234567890",
		},
	}

	sanitized := Sanitize(cfg)

	if cfg.Cluster.GossipSecretKey != "super-secret-key-1234567890" {
		t.Error("Original config should not be modified")
	}
	if sanitized.Cluster.GossipSecretKey == cfg.Cluster.GossipSecretKey {
		t.Error("Sanitized config should mask the gossip secret key")
	}
	if len(sanitized.Cluster.GossipSecretKey) != len(cfg.Cluster.GossipSecretKey) {
		t.Errorf("Masked key length = %d, want %d", len(sanitized.Cluster.GossipSecretKey), len(cfg.Cluster.GossipSecretKey))
	}
}

func TestSanitize_EmptyKey(t *testing.T) {
	cfg := &ServerConfig{}

	sanitized := Sanitize(cfg)

	if sanitized.Cluster.GossipSecretKey != "" {
		t.Error("Empty key should remain empty")
	}
}

func TestSanitize_ShortKey(t *testing.T) {
	cfg := &ServerConfig{
		Cluster: ClusterSection{
			GossipSecretKey: "abc",
		},
	}

	sanitized := Sanitize(cfg)

	if sanitized.Cluster.GossipSecretKey != "****" {
		t.Errorf("Short key should be fully masked, got %q", sanitized.Cluster.GossipSecretKey)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"a", "****"},
		{"ab", "****"},
		{"abc", "****"},
		{"abcd", "****"},
		{"abcde", "ab*de"},
		{"abcdef", "ab**ef"},
		{"1234567890", "12******90"},
	}

	for _, tt := range tests {
		result := maskSecret(tt.input)
		if result != tt.expected {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestVerify_ValidConfig(t *testing.T) {
	dir := t.TempDir()

	cfg := &ServerConfig{
		Storage: StorageSection{
			DataDir:     dir,
			GCThreshold: 0.5,
		},
		Blob: BlobSection{
			BasePath: dir + "/blobs",
		},
	}

	if err := Verify(cfg); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestVerify_EmptyDataDir(t *testing.T) {
	cfg := &ServerConfig{
		Storage: StorageSection{
			DataDir: "",
		},
	}

	if err := Verify(cfg); err == nil {
		t.Error("Expected error for empty data_dir")
	}
}

func TestVerify_InvalidGCThreshold(t *testing.T) {
	dir := t.TempDir()

	cfg := &ServerConfig{
		Storage: StorageSection{
			DataDir:     dir,
			GCThreshold: 1.5,
		},
		Blob: BlobSection{
			BasePath: dir + "/blobs",
		},
	}

	if err := Verify(cfg); err == nil {
		t.Error("Expected error for invalid gc_threshold")
	}
}

func TestVerify_CreateDataDir(t *testing.T) {
	dir := t.TempDir()
	newDir := dir + "/subdir/data"

	cfg := &ServerConfig{
		Storage: StorageSection{
			DataDir:     newDir,
			GCThreshold: 0.5,
		},
		Blob: BlobSection{
			BasePath: dir + "/blobs",
		},
	}

	if err := Verify(cfg); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	if _, err := os.Stat(newDir); os.IsNotExist(err) {
		t.Error("Data directory should have been created")
	}
}

func TestVerify_ClusterRequiresSeedsOrBootstrap(t *testing.T) {
	dir := t.TempDir()

	cfg := &ServerConfig{
		Storage: StorageSection{DataDir: dir, GCThreshold: 0.5},
		Blob:    BlobSection{BasePath: dir + "/blobs"},
		Cluster: ClusterSection{
			Enabled:           true,
			RaftBindAddr:      "127.0.0.1:5343",
			RaftDataDir:       dir + "/raft",
			Bootstrap:         false,
			ReplicationFactor: 3,
		},
	}

	if err := Verify(cfg); err == nil {
		t.Error("Expected error when cluster enabled, not bootstrapping, with no seeds")
	}

	cfg.Cluster.Bootstrap = true
	if err := Verify(cfg); err != nil {
		t.Errorf("Verify failed for bootstrap node: %v", err)
	}
}

func TestVerify_AdminTLSPairing(t *testing.T) {
	dir := t.TempDir()

	cfg := &ServerConfig{
		Storage: StorageSection{DataDir: dir, GCThreshold: 0.5},
		Blob:    BlobSection{BasePath: dir + "/blobs"},
		Admin:   AdminSection{Addr: "127.0.0.1:5080", TLSCertFile: dir + "/tls.crt"},
	}

	if err := Verify(cfg); err == nil {
		t.Error("Expected error when tls_cert_file is set without tls_key_file")
	}

	cfg.Admin.TLSCertFile = ""
	cfg.Admin.TLSClientCAFile = dir + "/ca.crt"
	if err := Verify(cfg); err == nil {
		t.Error("Expected error when tls_client_ca_file is set without a serving pair")
	}

	cfg.Admin.TLSCertFile = dir + "/tls.crt"
	cfg.Admin.TLSKeyFile = dir + "/tls.key"
	if err := Verify(cfg); err != nil {
		t.Errorf("Verify failed for a complete TLS config: %v", err)
	}
}

func TestConstants(t *testing.T) {
	if DefaultLogLevel != "info" {
		t.Errorf("DefaultLogLevel = %q", DefaultLogLevel)
	}
	if DefaultLogFormat != "json" {
		t.Errorf("DefaultLogFormat = %q", DefaultLogFormat)
	}
	if DefaultReplicationFactor != 3 {
		t.Errorf("DefaultReplicationFactor = %d", DefaultReplicationFactor)
	}
}

func TestServerConfig_Struct(t *testing.T) {
	cfg := ServerConfig{
		Storage: StorageSection{
			DataDir:     "/data",
			GCThreshold: 0.5,
		},
		Cluster: ClusterSection{
			NodeID: "node-1",
			Seeds:  []string{"node-2:5343", "node-3:5343"},
		},
		Log: LogSection{
			Level:  "debug",
			Format: "text",
		},
	}

	if cfg.Storage.DataDir != "/data" {
		t.Error("DataDir not set correctly")
	}
	if len(cfg.Cluster.Seeds) != 2 {
		t.Error("Cluster seeds not set correctly")
	}
}
