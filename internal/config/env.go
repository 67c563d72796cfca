package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overlays environment variables onto cfg.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("SENTINEL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("SENTINEL_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if url := os.Getenv("SENTINEL_REDIS_URL"); url != "" {
		cfg.Stores.RedisURL = url
	}

	if key := os.Getenv("SENTINEL_MASTER_KEY"); key != "" {
		cfg.Keys.MasterKeyHex = key
	}

	if host := os.Getenv("SENTINEL_PG_HOST"); host != "" {
		cfg.Stores.Postgres.Host = host
	}
	if pass := os.Getenv("SENTINEL_PG_PASSWORD"); pass != "" {
		cfg.Stores.Postgres.Password = pass
	}
}

// GetEnvOrDefault returns the environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
