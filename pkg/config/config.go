package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/driftdrive/driftdrive/pkg/engine"
)

// Config represents the complete DriftDrive configuration.
//
// This structure captures all configurable aspects of the engine process:
//   - Logging configuration
//   - Engine policy (quotas, retention, sweeping)
//   - Metadata store selection and store-specific configuration
//   - Content store selection and store-specific configuration
//   - Metrics collection
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DRIFTDRIVE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type and factory
// function. The Config struct contains type-specific sections (e.g.
// metadata.badger, content.s3) and only the section matching the selected
// type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Engine contains the policy parameters the engine consults
	Engine EngineConfig `mapstructure:"engine"`

	// Metadata specifies the metadata store type and type-specific configuration
	Metadata MetadataConfig `mapstructure:"metadata"`

	// Content specifies the content store type and type-specific configuration
	Content ContentConfig `mapstructure:"content"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// EngineConfig carries the injected engine policy.
type EngineConfig struct {
	// DefaultQuotaBytes is the limit applied to new principals. 0 means
	// unlimited.
	DefaultQuotaBytes uint64 `mapstructure:"default_quota_bytes"`

	// TrashRetention is how long deletions stay restorable before the
	// sweeper purges them. 0 disables automatic purging.
	TrashRetention time.Duration `mapstructure:"trash_retention"`

	// VersionRetention bounds per-file version history.
	VersionRetention VersionRetentionConfig `mapstructure:"version_retention"`

	// SweepInterval is the cadence of the background sweeper. 0 disables it.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// BlobGrace is how long a blob must have been unreferenced before a
	// sweep physically removes it.
	BlobGrace time.Duration `mapstructure:"blob_grace" validate:"gte=0"`

	// ReservationExpiry is the age after which an unsettled quota
	// reservation is treated as abandoned.
	ReservationExpiry time.Duration `mapstructure:"reservation_expiry"`
}

// VersionRetentionConfig bounds per-file version history. Zero values
// disable the respective criterion; the current version always survives.
type VersionRetentionConfig struct {
	// MaxCount keeps at most this many versions per file.
	MaxCount int `mapstructure:"max_count" validate:"gte=0"`

	// MaxAge prunes non-current versions older than this.
	MaxAge time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

// Policy converts the configuration into the engine's policy struct.
func (c *EngineConfig) Policy() engine.Policy {
	return engine.Policy{
		DefaultQuotaBytes: c.DefaultQuotaBytes,
		TrashRetention:    c.TrashRetention,
		VersionMaxCount:   c.VersionRetention.MaxCount,
		VersionMaxAge:     c.VersionRetention.MaxAge,
		SweepInterval:     c.SweepInterval,
		BlobGrace:         c.BlobGrace,
		ReservationExpiry: c.ReservationExpiry,
	}
}

// MetadataConfig specifies metadata store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: memory, badger, postgres
	Type string `mapstructure:"type" validate:"required,oneof=memory badger postgres"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Postgres contains PostgreSQL-specific configuration
	// Only used when Type = "postgres"
	Postgres map[string]any `mapstructure:"postgres"`
}

// ContentConfig specifies content store configuration.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: memory, filesystem, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory filesystem s3"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// MetricsConfig controls Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns on the global metrics registry. When false all
	// components use no-op collectors.
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DRIFTDRIVE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DRIFTDRIVE_ prefix and underscores.
	// Example: DRIFTDRIVE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DRIFTDRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is acceptable; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "driftdrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "driftdrive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
