package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "jobgate.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("admission.check_attempts", 3)
	v.SetDefault("admission.check_timeout_seconds", 5)
	v.SetDefault("admission.backoff_initial_ms", 100)
	v.SetDefault("admission.backoff_max_ms", 2000)
	v.SetDefault("admission.cache_ttl_hours", 24.0)

	v.SetDefault("log.json", false)
}
