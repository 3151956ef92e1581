package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr        string `env:"MERITFLOW_ADDR" envDefault:":8070"`
	DatabaseURL string `env:"DATABASE_URL"`
	Environment string `env:"MERITFLOW_ENV" envDefault:"development"`
	LogLevel    string `env:"MERITFLOW_LOG_LEVEL" envDefault:"info"`

	JWTSecret       string `env:"MERITFLOW_JWT_SECRET"`
	AllowDebugToken bool   `env:"MERITFLOW_ALLOW_DEBUG_TOKEN" envDefault:"false"`
	DebugToken      string `env:"MERITFLOW_DEBUG_TOKEN"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL required")
	}
	if cfg.JWTSecret == "" && !cfg.AllowDebugToken {
		return Config{}, fmt.Errorf("MERITFLOW_JWT_SECRET required unless MERITFLOW_ALLOW_DEBUG_TOKEN=true")
	}
	if cfg.Environment == "production" && cfg.AllowDebugToken {
		return Config{}, fmt.Errorf("MERITFLOW_ALLOW_DEBUG_TOKEN=true is forbidden in production")
	}
	return cfg, nil
}
