// Package config loads jobgate configuration with Viper. Precedence,
// lowest to highest: defaults, config file, environment variables
// (JOBGATE_ prefix, dots replaced by underscores).
package config

import "fmt"

// Config is the top-level jobgate configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the duplicate/snapshot cache. When disabled the
// process falls back to an in-memory cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AdmissionConfig tunes the duplicate checker.
type AdmissionConfig struct {
	CheckAttempts       int     `mapstructure:"check_attempts"`
	CheckTimeoutSeconds int     `mapstructure:"check_timeout_seconds"`
	BackoffInitialMs    int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int     `mapstructure:"backoff_max_ms"`
	CacheTTLHours       float64 `mapstructure:"cache_ttl_hours"`
}

// LogConfig configures process logging.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// String returns a short representation for startup logging; secrets are
// omitted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Redis: {Enabled: %t, Addr: %s}, Admission: {Attempts: %d}}",
		c.Database.Path, c.Redis.Enabled, c.Redis.Addr, c.Admission.CheckAttempts)
}
