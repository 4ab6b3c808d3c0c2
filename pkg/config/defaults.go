package config

import (
	"strings"
	"time"

	"github.com/edgenet/edgenet/pkg/datastore"
)

// GetDefaultConfig returns a configuration populated entirely with defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in any unspecified configuration fields. Zero values
// are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDatastoreDefaults(&cfg.Datastore)
	applyMetricsDefaults(&cfg.Metrics)
	applyClientDefaults(&cfg.Client)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.MaxFailAttempts == 0 {
		cfg.MaxFailAttempts = 3
	}
	if cfg.LockoutDuration == 0 {
		cfg.LockoutDuration = 10 * time.Second
	}
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = "credentials.txt"
	}
	if cfg.DeviceLogFile == "" {
		cfg.DeviceLogFile = "edge-device-log.txt"
	}
	if cfg.DeletionLogFile == "" {
		cfg.DeletionLogFile = "deletion-log.txt"
	}
	if cfg.UploadLogFile == "" {
		cfg.UploadLogFile = "upload-log.txt"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 256
	}
}

func applyDatastoreDefaults(cfg *datastore.Config) {
	if cfg.Backend == "" {
		cfg.Backend = datastore.BackendFS
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "edgenet-data"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in)
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.PacketSize == 0 {
		cfg.PacketSize = 1024
	}
	if cfg.PacingDelay == 0 {
		cfg.PacingDelay = 5 * time.Millisecond
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}
}
