// Package config defines the corestore-server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultDataDir            = "/var/lib/corestore-server/data"
	DefaultGCInterval         = 10 * time.Minute
	DefaultGCThreshold        = 0.5
	DefaultCacheSizeMB        = 64
	DefaultValueLogFileSizeMB = 1024

	DefaultBlobBasePath = "/var/lib/corestore-server/blobs"
	DefaultBlobTempTTL  = 24 * time.Hour

	DefaultFullTextLanguage = "en"

	DefaultRaftAddr          = "127.0.0.1:5343"
	DefaultRaftDataDir       = "/var/lib/corestore-server/raft"
	DefaultGossipAddr        = "127.0.0.1"
	DefaultGossipPort        = 5353
	DefaultReplicationFactor = 3
	DefaultApplyTimeout      = 5 * time.Second

	DefaultDirectoryAccount = 0

	DefaultAdminAddr = "127.0.0.1:5080"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default single-node server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Storage: StorageSection{
			DataDir:            DefaultDataDir,
			GCInterval:         DefaultGCInterval,
			GCThreshold:        DefaultGCThreshold,
			CacheSizeMB:        DefaultCacheSizeMB,
			ValueLogFileSizeMB: DefaultValueLogFileSizeMB,
		},
		Blob: BlobSection{
			BasePath: DefaultBlobBasePath,
			TempTTL:  DefaultBlobTempTTL,
		},
		FullText: FullTextSection{
			DefaultLanguage: DefaultFullTextLanguage,
		},
		Cluster: ClusterSection{
			Enabled:           false,
			RaftBindAddr:      DefaultRaftAddr,
			RaftDataDir:       DefaultRaftDataDir,
			GossipBindAddr:    DefaultGossipAddr,
			GossipBindPort:    DefaultGossipPort,
			ReplicationFactor: DefaultReplicationFactor,
			ApplyTimeout:      DefaultApplyTimeout,
		},
		Principal: PrincipalSection{
			DirectoryAccount: DefaultDirectoryAccount,
		},
		Admin: AdminSection{
			Addr: DefaultAdminAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
