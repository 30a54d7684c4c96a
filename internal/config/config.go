// Package config loads blindspot server configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ScanConfig holds per-scan defaults and limits applied when a request
// omits them.
type ScanConfig struct {
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
	DefaultConcurrency int           `mapstructure:"default_concurrency"`
	MaxDomains         int           `mapstructure:"max_domains"`
	UserAgent          string        `mapstructure:"user_agent"`
}

// RetentionConfig controls eviction of completed scans.
type RetentionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"

	// File sink, rotated by lumberjack. Empty disables it.
	LogFile    string `mapstructure:"log_file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("scan.default_timeout", 5*time.Second)
	v.SetDefault("scan.default_concurrency", 10)
	v.SetDefault("scan.max_domains", 1000)
	v.SetDefault("scan.user_agent", "blindspot")
	v.SetDefault("retention.ttl", time.Hour)
	v.SetDefault("retention.sweep_interval", 5*time.Minute)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)
}

// Load reads configuration from an optional YAML file plus BLINDSPOT_*
// environment variables, on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BLINDSPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Scan.DefaultTimeout <= 0 {
		return fmt.Errorf("scan.default_timeout must be positive")
	}
	if c.Scan.DefaultConcurrency <= 0 {
		return fmt.Errorf("scan.default_concurrency must be positive")
	}
	if c.Scan.MaxDomains <= 0 {
		return fmt.Errorf("scan.max_domains must be positive")
	}
	if c.Retention.TTL <= 0 {
		return fmt.Errorf("retention.ttl must be positive")
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return nil
}
