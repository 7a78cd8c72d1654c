// Package config loads the strata configuration from strata.yml or the
// environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the strata configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Tenant   TenantConfig   `mapstructure:"tenant"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// TenantConfig represents the default tenant used when a caller does not
// supply one.
type TenantConfig struct {
	DefaultSetID int64 `mapstructure:"default_set_id"`
}

// CacheConfig represents the optional shared-content Redis cache layer.
type CacheConfig struct {
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// Load loads the configuration from strata.yml or strata.yaml
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("tenant.default_set_id", 0)
	v.SetDefault("cache.redis_prefix", "strata:shared:")
	v.SetDefault("cache.ttl", 15*time.Minute)

	// Set config name and paths
	v.SetConfigName("strata")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Enable environment variable support
	v.AutomaticEnv()

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetDSN returns the database DSN from the environment or config.
func GetDSN() string {
	if dsn := os.Getenv("STRATA_DSN"); dsn != "" {
		return dsn
	}

	cfg, err := Load()
	if err != nil {
		return ""
	}
	return cfg.Database.DSN
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must not be negative, got: %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must not be negative, got: %d", cfg.Database.MaxIdleConns)
	}
	if cfg.Tenant.DefaultSetID < 0 {
		return fmt.Errorf("tenant.default_set_id must not be negative, got: %d", cfg.Tenant.DefaultSetID)
	}
	return nil
}
