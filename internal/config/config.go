// Package config provides configuration management for the transaction
// coordinator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/recovery"
	"github.com/devrev/pairdb/txcoordinator/internal/service"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Resource drivers
const (
	DriverPostgres = recovery.DriverPostgres
	DriverRedis    = recovery.DriverRedis
)

// Config holds all configuration for the transaction coordinator.
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	LoggingSystem LoggingSystemConfig `mapstructure:"logging_system" yaml:"logging_system"`
	Resources     []ResourceConfig    `mapstructure:"resources" yaml:"resources"`
	Recovery      RecoveryConfig      `mapstructure:"recovery" yaml:"recovery"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds process configuration.
type ServerConfig struct {
	NodeID          string        `mapstructure:"node_id" yaml:"node_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"-"`
}

// LoggingSystemConfig holds transaction log configuration.
type LoggingSystemConfig struct {
	Directory           string        `mapstructure:"directory" yaml:"directory"`
	FilePrefix          string        `mapstructure:"file_prefix" yaml:"file_prefix"`
	Identifier          string        `mapstructure:"identifier" yaml:"identifier"`
	SwitchThreshold     int64         `mapstructure:"switch_threshold" yaml:"switch_threshold"`
	SwitchInterval      time.Duration `mapstructure:"switch_interval" yaml:"-"`
	Optimized           bool          `mapstructure:"optimized" yaml:"optimized"`
	Compaction          string        `mapstructure:"compaction" yaml:"compaction"`
	CompactionBatchSize int           `mapstructure:"compaction_batch_size" yaml:"compaction_batch_size"`
}

// ResourceConfig describes one resource manager whose prepared branches are
// tracked in a pending-branch table.
type ResourceConfig struct {
	ID          string `mapstructure:"id" yaml:"id"`
	Driver      string `mapstructure:"driver" yaml:"driver"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Table       string `mapstructure:"table" yaml:"table"`
	CreateTable bool   `mapstructure:"create_table" yaml:"create_table"`
}

// RecoveryConfig holds startup recovery configuration.
type RecoveryConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout" yaml:"-"`
	Parallelism int           `mapstructure:"parallelism" yaml:"parallelism"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds process logging configuration.
type LoggingConfig struct {
	Level    string         `mapstructure:"level" yaml:"level"`
	Format   string         `mapstructure:"format" yaml:"format"`
	Output   string         `mapstructure:"output" yaml:"output"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig controls rotation of file log output.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("txcoordinator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/txcoordinator/")
	}

	// Read environment variables
	v.SetEnvPrefix("TXCOORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.node_id", "txcoord-1")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Transaction log defaults
	v.SetDefault("logging_system.directory", "/var/lib/txcoordinator")
	v.SetDefault("logging_system.file_prefix", service.DefaultFilePrefix)
	v.SetDefault("logging_system.identifier", service.DefaultIdentifier)
	v.SetDefault("logging_system.switch_threshold", service.DefaultSwitchThreshold)
	v.SetDefault("logging_system.switch_interval", "60s")
	v.SetDefault("logging_system.optimized", false)
	v.SetDefault("logging_system.compaction", "none")
	v.SetDefault("logging_system.compaction_batch_size", service.DefaultCompactionBatchSize)

	// Recovery defaults
	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.scan_timeout", "30s")
	v.SetDefault("recovery.parallelism", 4)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9095)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.rotation.max_size_mb", 100)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.max_age_days", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server node_id is required")
	}

	ls := c.LoggingSystem
	if ls.Directory == "" {
		return fmt.Errorf("logging_system directory is required")
	}
	if ls.FilePrefix == "" {
		return fmt.Errorf("logging_system file_prefix is required")
	}
	if ls.Identifier == "" || len(ls.Identifier) > 16 {
		return fmt.Errorf("logging_system identifier must be 1 to 16 bytes: %q", ls.Identifier)
	}
	if ls.SwitchThreshold <= 0 {
		return fmt.Errorf("logging_system switch_threshold must be positive")
	}
	if ls.SwitchInterval <= 0 {
		return fmt.Errorf("logging_system switch_interval must be positive")
	}
	if _, ok := service.NewCompactor(ls.Compaction); !ok {
		return fmt.Errorf("unknown logging_system compaction: %q", ls.Compaction)
	}
	if ls.CompactionBatchSize <= 0 {
		return fmt.Errorf("logging_system compaction_batch_size must be positive")
	}

	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if r.ID == "" {
			return fmt.Errorf("resources[%d]: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("resources[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true

		if r.Driver != DriverPostgres && r.Driver != DriverRedis {
			return fmt.Errorf("resources[%d]: unsupported driver %q", i, r.Driver)
		}
		if r.DSN == "" {
			return fmt.Errorf("resources[%d]: dsn is required", i)
		}
	}

	if c.Recovery.Enabled && c.Recovery.Parallelism <= 0 {
		return fmt.Errorf("recovery parallelism must be positive")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	return nil
}

// ServiceConfig converts the section into the transaction log configuration
func (c LoggingSystemConfig) ServiceConfig() *service.LoggingConfig {
	cfg := service.DefaultLoggingConfig(c.Directory)
	cfg.FilePrefix = c.FilePrefix
	cfg.Identifier = c.Identifier
	cfg.SwitchThreshold = c.SwitchThreshold
	cfg.SwitchInterval = c.SwitchInterval
	cfg.Optimized = c.Optimized
	cfg.CompactionBatchSize = c.CompactionBatchSize
	return cfg
}

// TableOptions converts the entry into the options of its pending-branch table
func (r ResourceConfig) TableOptions() recovery.TableOptions {
	return recovery.TableOptions{
		Driver:      r.Driver,
		DSN:         r.DSN,
		Name:        r.Table,
		CreateTable: r.CreateTable,
	}
}

// ServiceConfig converts the section into the recovery scan configuration
func (c RecoveryConfig) ServiceConfig() *service.RecoveryConfig {
	return &service.RecoveryConfig{
		ScanTimeout: c.ScanTimeout,
		Parallelism: c.Parallelism,
	}
}

// Marshal renders cfg as YAML that Load accepts. Durations are written in
// their string form.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func (c ServerConfig) MarshalYAML() (interface{}, error) {
	type plain ServerConfig
	return struct {
		plain           `yaml:",inline"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	}{plain(c), c.ShutdownTimeout.String()}, nil
}

func (c LoggingSystemConfig) MarshalYAML() (interface{}, error) {
	type plain LoggingSystemConfig
	return struct {
		plain          `yaml:",inline"`
		SwitchInterval string `yaml:"switch_interval"`
	}{plain(c), c.SwitchInterval.String()}, nil
}

func (c RecoveryConfig) MarshalYAML() (interface{}, error) {
	type plain RecoveryConfig
	return struct {
		plain       `yaml:",inline"`
		ScanTimeout string `yaml:"scan_timeout"`
	}{plain(c), c.ScanTimeout.String()}, nil
}
