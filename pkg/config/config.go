package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/adapter/coinbase"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/bridge"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/firehose"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/reconcile"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis"
)

// Config represents the application configuration.
type Config struct {
	App       AppConfig        `envPrefix:"APP_"`
	Redis     redis.Config     `envPrefix:"REDIS_"`
	Coinbase  coinbase.Config  `envPrefix:"COINBASE_"`
	Reconcile reconcile.Config `envPrefix:"RECONCILE_"`
	Bridge    bridge.Config    `envPrefix:"BRIDGE_"`
	Firehose  firehose.Config  `envPrefix:"FIREHOSE_"`
}

// AppConfig represents the application configuration.
type AppConfig struct {
	Name        string `env:"NAME" envDefault:"livermore"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// OwnerID and ExchangeID scope every cache key and channel this
	// instance touches.
	OwnerID    string `env:"OWNER_ID" envDefault:"default"`
	ExchangeID string `env:"EXCHANGE_ID" envDefault:"coinbase"`
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
