package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Stores     StoresConfig     `yaml:"stores"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Moderation ModerationConfig `yaml:"moderation"`
	Fraud      FraudConfig      `yaml:"fraud"`
	Keys       KeysConfig       `yaml:"keys"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	HSTS           bool     `yaml:"hsts"`
	CSP            string   `yaml:"csp"`
}

type StoresConfig struct {
	RedisURL string `yaml:"redis_url"`
	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"postgres"`
}

// EndpointLimit is one endpoint class's window configuration.
type EndpointLimit struct {
	WindowMs    int `yaml:"window_ms"`
	MaxRequests int `yaml:"max_requests"`
}

type RateLimitConfig struct {
	Endpoints       map[string]EndpointLimit `yaml:"endpoints"`
	TierMultipliers map[string]int           `yaml:"tier_multipliers"`
	FloodBurst      int                      `yaml:"flood_burst"`
	FloodPerSecond  int                      `yaml:"flood_per_second"`
}

type ModerationConfig struct {
	MaxTextLength  int      `yaml:"max_text_length"`
	BannedTerms    []string `yaml:"banned_terms"`
	ToxicTerms     []string `yaml:"toxic_terms"`
	AllowedDomains []string `yaml:"allowed_domains"`
}

type FraudConfig struct {
	VelocityThresholds map[string]int `yaml:"velocity_thresholds"`
}

type KeysConfig struct {
	MasterKeyHex            string        `yaml:"master_key_hex"`
	RotationInterval        time.Duration `yaml:"rotation_interval"`
	KeyLifetime             time.Duration `yaml:"key_lifetime"`
	MaxActiveKeys           int           `yaml:"max_active_keys"`
	EmergencyUsageThreshold int64         `yaml:"emergency_usage_threshold"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.LogLevel = "info"
	cfg.Server.CSP = "default-src 'self'; media-src 'self' blob:; script-src 'self'"
	cfg.Server.HSTS = true

	cfg.RateLimit.Endpoints = map[string]EndpointLimit{
		"auth":           {WindowMs: 900_000, MaxRequests: 5},
		"chat":           {WindowMs: 10_000, MaxRequests: 5},
		"upload":         {WindowMs: 3_600_000, MaxRequests: 10},
		"stream_create":  {WindowMs: 3_600_000, MaxRequests: 3},
		"password_reset": {WindowMs: 3_600_000, MaxRequests: 3},
		"api":            {WindowMs: 60_000, MaxRequests: 100},
	}
	cfg.RateLimit.TierMultipliers = map[string]int{
		"basic":      1,
		"premium":    3,
		"enterprise": 5,
	}
	cfg.RateLimit.FloodBurst = 5
	cfg.RateLimit.FloodPerSecond = 1

	cfg.Moderation.MaxTextLength = 5000
	cfg.Moderation.AllowedDomains = []string{"youtube.com", "twitch.tv", "twitter.com"}

	cfg.Fraud.VelocityThresholds = map[string]int{
		"1m":  5,
		"5m":  15,
		"1h":  50,
		"24h": 200,
	}

	cfg.Keys.RotationInterval = 24 * time.Hour
	cfg.Keys.KeyLifetime = 72 * time.Hour
	cfg.Keys.MaxActiveKeys = 2
	cfg.Keys.EmergencyUsageThreshold = 1_000_000

	return cfg
}

// Load reads a yaml config file over the defaults, then applies the
// environment overlay.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	LoadFromEnv(cfg)
	return cfg, nil
}
