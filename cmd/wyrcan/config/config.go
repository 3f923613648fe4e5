package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTPTimeout bounds every registry request; zero means no limit, which
	// is the right default for multi-gigabyte blob downloads.
	HTTPTimeout time.Duration
}

// Load reads configuration from the environment, with .env as a fallback.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{}
	if v := os.Getenv("WYRCAN_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = d
		}
	}
	return cfg
}
