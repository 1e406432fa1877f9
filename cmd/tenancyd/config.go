package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the backend settings read from the environment
type Config struct {
	Addr        string `env:"TENANCY_ADDR" envDefault:":8572"`
	MetricsAddr string `env:"TENANCY_METRICS_ADDR" envDefault:":9572"`
	LogLevel    string `env:"TENANCY_LOG_LEVEL" envDefault:"info"`

	DatabaseDSN string `env:"TENANCY_DB_DSN" envDefault:"file:tenancy.db?cache=shared"`

	SigningKey string `env:"TENANCY_SIGNING_KEY"`
	JWKSURL    string `env:"TENANCY_JWKS_URL"`

	Auth0Domain       string `env:"AUTH0_DOMAIN"`
	Auth0ClientID     string `env:"AUTH0_CLIENT_ID"`
	Auth0ClientSecret string `env:"AUTH0_CLIENT_SECRET"`
	Auth0Connection   string `env:"AUTH0_CONNECTION"`

	ProvisionConcurrency int           `env:"TENANCY_PROVISION_CONCURRENCY" envDefault:"4"`
	ProvisionRPS         float64       `env:"TENANCY_PROVISION_RPS" envDefault:"5"`
	RosterTimeout        time.Duration `env:"TENANCY_ROSTER_TIMEOUT" envDefault:"2m"`

	SlugCacheSize int64         `env:"TENANCY_SLUG_CACHE_SIZE" envDefault:"10000"`
	SlugCacheTTL  time.Duration `env:"TENANCY_SLUG_CACHE_TTL" envDefault:"10m"`
}

// LoadConfig reads .env when present and parses the environment
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.SigningKey == "" && cfg.JWKSURL == "" {
		return nil, fmt.Errorf("TENANCY_SIGNING_KEY or TENANCY_JWKS_URL is required")
	}
	return cfg, nil
}

// NewLogger builds a production zap logger at the configured level
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid TENANCY_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	return config.Build()
}
