package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything the server reads from the environment. godotenv is
// loaded by main before this runs, so a local .env and real env vars both
// work.
type Config struct {
	Port          string
	RedisURL      string
	AdminPassword string
	FrontendURL   string

	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Defaults match the original deployment so an empty environment still
// produces a runnable dev server.
const (
	defaultPort          = "5000"
	defaultRedisURL      = "redis://localhost:6379"
	defaultAdminPassword = "echos2026"
	defaultRateWindowMS  = 60000
	defaultRateMax       = 100
)

// Load reads configuration from the environment, falling back to dev
// defaults for anything unset.
func Load() Config {
	cfg := Config{
		Port:            getenv("PORT", defaultPort),
		RedisURL:        getenv("REDIS_URL", defaultRedisURL),
		AdminPassword:   getenv("ADMIN_PASSWORD", defaultAdminPassword),
		FrontendURL:     os.Getenv("FRONTEND_URL"),
		RateLimitWindow: time.Duration(getenvInt("RATE_LIMIT_WINDOW_MS", defaultRateWindowMS)) * time.Millisecond,
		RateLimitMax:    getenvInt("RATE_LIMIT_MAX_REQUESTS", defaultRateMax),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
