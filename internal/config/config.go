package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	JWTSecret   string `env:"JWT_SECRET,required"`

	// Embedding service
	EmbeddingURL       string `env:"EMBEDDING_URL" envDefault:"http://localhost:8090"`
	EmbeddingModel     string `env:"EMBEDDING_MODEL" envDefault:"multilingual-e5-small"`
	EmbeddingTimeoutMs int    `env:"EMBEDDING_TIMEOUT_MS" envDefault:"10000"`

	// HTTP
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Background jobs
	NotifyWorkers int `env:"NOTIFY_WORKERS" envDefault:"5"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
