package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                      int    `env:"PORT" envDefault:"8080"`
	DatabaseURL               string `env:"DATABASE_URL,required"`
	RedisURL                  string `env:"REDIS_URL,required"`
	LogLevel                  string `env:"LOG_LEVEL" envDefault:"info"`
	ReconcileTimeoutSeconds   int    `env:"RECONCILE_TIMEOUT_SECONDS" envDefault:"30"`
	ReconcileMarkerTTLSeconds int    `env:"RECONCILE_MARKER_TTL_SECONDS" envDefault:"1800"`
	ViewCacheTTLSeconds       int    `env:"VIEW_CACHE_TTL_SECONDS" envDefault:"60"`
	RateLimitPerMin           int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	RepairIntervalSeconds     int    `env:"REPAIR_INTERVAL_SECONDS" envDefault:"300"`
	RepairBatchSize           int    `env:"REPAIR_BATCH_SIZE" envDefault:"100"`
	CookieSecure              bool   `env:"COOKIE_SECURE" envDefault:"false"`
}

func (c *Config) ReconcileTimeout() time.Duration {
	return time.Duration(c.ReconcileTimeoutSeconds) * time.Second
}

func (c *Config) ReconcileMarkerTTL() time.Duration {
	return time.Duration(c.ReconcileMarkerTTLSeconds) * time.Second
}

func (c *Config) ViewCacheTTL() time.Duration {
	return time.Duration(c.ViewCacheTTLSeconds) * time.Second
}

func (c *Config) RepairInterval() time.Duration {
	return time.Duration(c.RepairIntervalSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	positive := map[string]int{
		"RECONCILE_TIMEOUT_SECONDS":    c.ReconcileTimeoutSeconds,
		"RECONCILE_MARKER_TTL_SECONDS": c.ReconcileMarkerTTLSeconds,
		"REPAIR_INTERVAL_SECONDS":      c.RepairIntervalSeconds,
		"REPAIR_BATCH_SIZE":            c.RepairBatchSize,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	if c.ViewCacheTTLSeconds < 0 {
		return fmt.Errorf("VIEW_CACHE_TTL_SECONDS must not be negative, got %d", c.ViewCacheTTLSeconds)
	}

	if isProduction {
		if !c.CookieSecure {
			log.Warn().Msg("COOKIE_SECURE is false in production: client_id cookie will be sent over plain HTTP")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
