package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "txcoord-1", cfg.Server.NodeID)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, service.DefaultFilePrefix, cfg.LoggingSystem.FilePrefix)
	assert.Equal(t, int64(service.DefaultSwitchThreshold), cfg.LoggingSystem.SwitchThreshold)
	assert.Equal(t, 60*time.Second, cfg.LoggingSystem.SwitchInterval)
	assert.False(t, cfg.LoggingSystem.Optimized)
	assert.Equal(t, "none", cfg.LoggingSystem.Compaction)
	assert.Equal(t, service.DefaultCompactionBatchSize, cfg.LoggingSystem.CompactionBatchSize)

	assert.True(t, cfg.Recovery.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Recovery.ScanTimeout)
	assert.Equal(t, 4, cfg.Recovery.Parallelism)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9095, cfg.Metrics.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Resources)
}

func TestConfigLoad_FromEnvironment(t *testing.T) {
	t.Setenv("TXCOORD_SERVER_NODE_ID", "node-7")
	t.Setenv("TXCOORD_LOGGING_SYSTEM_SWITCH_INTERVAL", "5m")
	t.Setenv("TXCOORD_LOGGING_SYSTEM_OPTIMIZED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "node-7", cfg.Server.NodeID)
	assert.Equal(t, 5*time.Minute, cfg.LoggingSystem.SwitchInterval)
	assert.True(t, cfg.LoggingSystem.Optimized)
}

func TestConfigLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txcoordinator.yaml")
	content := `
server:
  node_id: coord-a
logging_system:
  directory: /tmp/txlog
  switch_threshold: 4096
  compaction: coalesce
resources:
  - id: orders-db
    driver: postgres
    dsn: postgres://localhost/orders
    create_table: true
  - id: sessions
    driver: redis
    dsn: redis://localhost:6379/0
    table: pending
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "coord-a", cfg.Server.NodeID)
	assert.Equal(t, "/tmp/txlog", cfg.LoggingSystem.Directory)
	assert.Equal(t, int64(4096), cfg.LoggingSystem.SwitchThreshold)
	assert.Equal(t, "coalesce", cfg.LoggingSystem.Compaction)
	require.Len(t, cfg.Resources, 2)
	assert.Equal(t, DriverPostgres, cfg.Resources[0].Driver)
	assert.True(t, cfg.Resources[0].CreateTable)
	assert.Equal(t, "pending", cfg.Resources[1].Table)
}

func TestConfigLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{NodeID: "n1", ShutdownTimeout: time.Second},
		LoggingSystem: LoggingSystemConfig{
			Directory:           "/tmp",
			FilePrefix:          "txlog",
			Identifier:          "txcoordinator",
			SwitchThreshold:     1024,
			SwitchInterval:      time.Minute,
			Compaction:          "none",
			CompactionBatchSize: 100,
		},
		Recovery: RecoveryConfig{Enabled: true, ScanTimeout: time.Second, Parallelism: 2},
		Metrics:  MetricsConfig{Enabled: true, Port: 9095, Path: "/metrics"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing node id", func(c *Config) { c.Server.NodeID = "" }, true},
		{"missing directory", func(c *Config) { c.LoggingSystem.Directory = "" }, true},
		{"identifier too long", func(c *Config) { c.LoggingSystem.Identifier = "0123456789abcdefg" }, true},
		{"zero threshold", func(c *Config) { c.LoggingSystem.SwitchThreshold = 0 }, true},
		{"zero interval", func(c *Config) { c.LoggingSystem.SwitchInterval = 0 }, true},
		{"unknown compaction", func(c *Config) { c.LoggingSystem.Compaction = "zstd" }, true},
		{"zero batch", func(c *Config) { c.LoggingSystem.CompactionBatchSize = 0 }, true},
		{"bad driver", func(c *Config) {
			c.Resources = []ResourceConfig{{ID: "a", Driver: "mysql", DSN: "x"}}
		}, true},
		{"duplicate resource", func(c *Config) {
			c.Resources = []ResourceConfig{
				{ID: "a", Driver: DriverRedis, DSN: "redis://x"},
				{ID: "a", Driver: DriverPostgres, DSN: "postgres://x"},
			}
		}, true},
		{"missing dsn", func(c *Config) {
			c.Resources = []ResourceConfig{{ID: "a", Driver: DriverRedis}}
		}, true},
		{"recovery disabled ignores parallelism", func(c *Config) {
			c.Recovery.Enabled = false
			c.Recovery.Parallelism = 0
		}, false},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }, true},
		{"metrics disabled ignores port", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Port = 0
		}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServiceConfig(t *testing.T) {
	cfg := validConfig()
	cfg.LoggingSystem.Optimized = true

	lc := cfg.LoggingSystem.ServiceConfig()
	assert.Equal(t, "/tmp", lc.Directory)
	assert.Equal(t, int64(1024), lc.SwitchThreshold)
	assert.Equal(t, time.Minute, lc.SwitchInterval)
	assert.True(t, lc.Optimized)
	assert.Equal(t, 100, lc.CompactionBatchSize)
	assert.Equal(t, uint16(service.DefaultMajorVersion), lc.MajorVersion)

	rc := cfg.Recovery.ServiceConfig()
	assert.Equal(t, time.Second, rc.ScanTimeout)
	assert.Equal(t, 2, rc.Parallelism)
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Resources = []ResourceConfig{{ID: "orders-db", Driver: DriverPostgres, DSN: "postgres://x", Table: "bytejta"}}

	out, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "switch_interval: 1m0s")
	assert.Contains(t, string(out), "shutdown_timeout: 1s")

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, os.WriteFile(path, out, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.LoggingSystem, loaded.LoggingSystem)
	assert.Equal(t, cfg.Server, loaded.Server)
	assert.Equal(t, cfg.Recovery, loaded.Recovery)
	assert.Equal(t, cfg.Resources, loaded.Resources)
}
