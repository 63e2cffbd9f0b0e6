package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "explicit config path that does not exist must fail")

	// No explicit path and no file present: defaults apply.
	cfg, err = Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "badger", cfg.Metadata.Type)
	assert.Equal(t, "filesystem", cfg.Content.Type)
	assert.Equal(t, 30*24*time.Hour, cfg.Engine.TrashRetention)
	assert.Equal(t, time.Hour, cfg.Engine.SweepInterval)
	assert.Equal(t, 15*time.Minute, cfg.Engine.BlobGrace)
	assert.Equal(t, "/var/lib/driftdrive/metadata", cfg.Metadata.Badger["db_path"])
	assert.Equal(t, "/var/lib/driftdrive/content", cfg.Content.Filesystem["path"])
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
engine:
  default_quota_bytes: 1073741824
  trash_retention: 168h
  version_retention:
    max_count: 10
  sweep_interval: 30m
metadata:
  type: memory
content:
  type: memory
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, uint64(1073741824), cfg.Engine.DefaultQuotaBytes)
	assert.Equal(t, 7*24*time.Hour, cfg.Engine.TrashRetention)
	assert.Equal(t, 10, cfg.Engine.VersionRetention.MaxCount)
	assert.Equal(t, 30*time.Minute, cfg.Engine.SweepInterval)
	assert.Equal(t, "memory", cfg.Metadata.Type)
	assert.Equal(t, "memory", cfg.Content.Type)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		ApplyDefaults(cfg)
		return cfg
	}

	t.Run("UnknownMetadataType", func(t *testing.T) {
		cfg := base()
		cfg.Metadata.Type = "etcd"
		assert.Error(t, Validate(cfg))
	})

	t.Run("UnknownLogLevel", func(t *testing.T) {
		cfg := base()
		cfg.Logging.Level = "VERBOSE"
		assert.Error(t, Validate(cfg))
	})

	t.Run("PostgresWithoutDSN", func(t *testing.T) {
		cfg := base()
		cfg.Metadata.Type = "postgres"
		assert.Error(t, Validate(cfg))
	})

	t.Run("S3WithoutBucket", func(t *testing.T) {
		cfg := base()
		cfg.Content.Type = "s3"
		cfg.Content.S3["region"] = "eu-west-1"
		assert.Error(t, Validate(cfg))
	})

	t.Run("SweeperWithoutGrace", func(t *testing.T) {
		cfg := base()
		cfg.Engine.BlobGrace = 0
		assert.Error(t, Validate(cfg))
	})

	t.Run("DefaultsAreValid", func(t *testing.T) {
		assert.NoError(t, Validate(base()))
	})
}

func TestEnginePolicyConversion(t *testing.T) {
	cfg := EngineConfig{
		DefaultQuotaBytes: 512,
		TrashRetention:    time.Hour,
		VersionRetention:  VersionRetentionConfig{MaxCount: 3, MaxAge: time.Minute},
		SweepInterval:     time.Second,
		BlobGrace:         2 * time.Second,
		ReservationExpiry: 3 * time.Second,
	}

	policy := cfg.Policy()
	assert.Equal(t, uint64(512), policy.DefaultQuotaBytes)
	assert.Equal(t, time.Hour, policy.TrashRetention)
	assert.Equal(t, 3, policy.VersionMaxCount)
	assert.Equal(t, time.Minute, policy.VersionMaxAge)
	assert.Equal(t, time.Second, policy.SweepInterval)
	assert.Equal(t, 2*time.Second, policy.BlobGrace)
	assert.Equal(t, 3*time.Second, policy.ReservationExpiry)
}
