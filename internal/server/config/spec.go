// Package config defines the corestore-server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for cmd/corestore-server.
type ServerConfig struct {
	Storage   StorageSection   `koanf:"storage"`
	Blob      BlobSection      `koanf:"blob"`
	FullText  FullTextSection  `koanf:"fulltext"`
	Cluster   ClusterSection   `koanf:"cluster"`
	Principal PrincipalSection `koanf:"principal"`
	Admin     AdminSection     `koanf:"admin"`
	Log       LogSection       `koanf:"log"`
}

// StorageSection configures the embedded Badger-backed KV engine.
type StorageSection struct {
	DataDir            string        `koanf:"data_dir"`
	GCInterval         time.Duration `koanf:"gc_interval"`
	GCThreshold        float64       `koanf:"gc_threshold"`
	CacheSizeMB        int64         `koanf:"cache_size_mb"`
	ValueLogFileSizeMB int64         `koanf:"value_log_file_size_mb"`
	SyncWrites         bool          `koanf:"sync_writes"`
}

// BlobSection configures content-addressed blob storage.
type BlobSection struct {
	BasePath string        `koanf:"base_path"`
	TempTTL  time.Duration `koanf:"temp_ttl"`
}

// FullTextSection configures the full-text indexer.
type FullTextSection struct {
	DefaultLanguage string `koanf:"default_language"`
}

// ClusterSection configures Raft replication and gossip membership.
// GossipSecretKey, if set, enables memberlist's AES-GCM
// gossip encryption — the one secret this config tree actually carries.
type ClusterSection struct {
	Enabled           bool          `koanf:"enabled"`
	NodeID            string        `koanf:"node_id"`
	ClusterID         string        `koanf:"cluster_id"`
	Bootstrap         bool          `koanf:"bootstrap"`
	RaftBindAddr      string        `koanf:"raft_addr"`
	RaftDataDir       string        `koanf:"raft_data_dir"`
	GossipBindAddr    string        `koanf:"gossip_addr"`
	GossipBindPort    int           `koanf:"gossip_port"`
	GossipSecretKey   string        `koanf:"gossip_secret_key"`
	Seeds             []string      `koanf:"seeds"`
	ReplicationFactor int           `koanf:"replication_factor"`
	ApplyTimeout      time.Duration `koanf:"apply_timeout"`
}

// PrincipalSection configures the directory/ACL account.
type PrincipalSection struct {
	DirectoryAccount uint32 `koanf:"directory_account"`
}

// AdminSection configures the health/admin HTTP surface. When
// TLSCertFile/TLSKeyFile are set the server serves HTTPS, hot-reloading
// the pair on change; TLSClientCAFile additionally enforces mutual TLS
// against the given CA bundle.
type AdminSection struct {
	Addr            string `koanf:"addr"`
	TLSCertFile     string `koanf:"tls_cert_file"`
	TLSKeyFile      string `koanf:"tls_key_file"`
	TLSClientCAFile string `koanf:"tls_client_ca_file"`
}

// LogSection configures structured logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
