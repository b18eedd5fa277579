// Package config loads engine settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the engine reads at startup.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache layer
	LogLevel    slog.Level

	// PriceSourceURL is the base URL of the external daily-quote API.
	// Empty disables the collect/backfill price jobs.
	PriceSourceURL string
	// PriceSourceRate caps outbound quote requests per second.
	PriceSourceRate float64

	CacheTTL        time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present; real env vars win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		PriceSourceURL:  os.Getenv("PRICE_SOURCE_URL"),
		CacheTTL:        30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}

	rate, err := getFloat("PRICE_SOURCE_RATE", 1.0)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("PRICE_SOURCE_RATE must be positive, got %v", rate)
	}
	cfg.PriceSourceRate = rate

	switch lvl := getEnv("LOG_LEVEL", "info"); lvl {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown LOG_LEVEL %q", lvl)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
