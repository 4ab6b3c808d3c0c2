// Package config loads and validates the edgenet configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/edgenet/edgenet/pkg/datastore"
)

// Config represents the edgenet configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags and positional arguments (highest priority)
//  2. Environment variables (EDGENET_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the coordination server
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Datastore selects where per-device payloads are persisted
	Datastore datastore.Config `mapstructure:"datastore" yaml:"datastore"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Client configures the edge-device client
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the coordination server.
type ServerConfig struct {
	// Host is the address the TCP listener binds to
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP listen port. Normally supplied as a positional
	// argument, which overrides this value.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxFailAttempts is the number of consecutive authentication
	// failures a session tolerates before the account is blocked.
	MaxFailAttempts int `mapstructure:"max_fail_attempts" validate:"min=1,max=5" yaml:"max_fail_attempts"`

	// LockoutDuration is the cooldown window for blocked accounts
	LockoutDuration time.Duration `mapstructure:"lockout_duration" validate:"gt=0" yaml:"lockout_duration"`

	// CredentialsFile is the flat username/password lookup file
	CredentialsFile string `mapstructure:"credentials_file" validate:"required" yaml:"credentials_file"`

	// WatchCredentials reloads the credentials file on change
	WatchCredentials bool `mapstructure:"watch_credentials" yaml:"watch_credentials"`

	// DeviceLogFile is rewritten wholesale on every registry change
	DeviceLogFile string `mapstructure:"device_log_file" validate:"required" yaml:"device_log_file"`

	// DeletionLogFile records payload deletions, append-only
	DeletionLogFile string `mapstructure:"deletion_log_file" validate:"required" yaml:"deletion_log_file"`

	// UploadLogFile records payload uploads, append-only
	UploadLogFile string `mapstructure:"upload_log_file" validate:"required" yaml:"upload_log_file"`

	// MaxConnections caps concurrent client sessions
	MaxConnections int `mapstructure:"max_connections" validate:"gt=0" yaml:"max_connections"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Host is the metrics listener bind address
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the metrics listener port
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`
}

// ClientConfig configures the edge-device client.
type ClientConfig struct {
	// PacketSize is the fixed datagram payload size for peer transfers
	PacketSize int `mapstructure:"packet_size" validate:"gt=0" yaml:"packet_size"`

	// PacingDelay is the gap between peer-transfer datagrams. A policy
	// knob, not a correctness requirement.
	PacingDelay time.Duration `mapstructure:"pacing_delay" validate:"min=0" yaml:"pacing_delay"`

	// DownloadDir is where received peer-transfer files are written
	DownloadDir string `mapstructure:"download_dir" validate:"required" yaml:"download_dir"`
}

// Load loads configuration from file, environment, and defaults.
// A missing config file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct validation tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig saves the configuration in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures environment variable support and config file search.
// Environment variables use the EDGENET_ prefix and underscores, e.g.
// EDGENET_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("EDGENET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("edgenet")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// durationDecodeHook converts strings like "30s" or "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
