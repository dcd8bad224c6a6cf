package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Server struct {
		Port   int    `env:"PORT" envDefault:"8080"`
		Origin string `env:"ORIGIN" envDefault:"http://localhost:3000"`

		// Shared secret the bot front-end sends in the Authorization header.
		// Empty disables the check (local development).
		APIToken string `env:"API_TOKEN" envDefault:""`
	}

	Redis struct {
		Host     string `env:"REDIS_HOST" envDefault:"localhost"`
		Port     int    `env:"REDIS_PORT" envDefault:"6379"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Sweeper struct {
		Interval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	}

	Gateway struct {
		// Base URL of the bot gateway that delivers messages and answers
		// membership queries.
		BaseURL string `env:"BOT_GATEWAY_URL" envDefault:"http://localhost:8090"`
		Token   string `env:"BOT_GATEWAY_TOKEN" envDefault:""`
	}

	Cache struct {
		ActiveListTTL   time.Duration `env:"CACHE_ACTIVE_LIST_TTL" envDefault:"5s"`
		EntrantCountTTL time.Duration `env:"CACHE_ENTRANT_COUNT_TTL" envDefault:"3s"`
	}
}

func Load() *Config {
	// Missing .env is fine; production sets variables directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		panic(err)
	}

	return cfg
}
