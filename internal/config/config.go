package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server settings, all sourced from the environment.
type Config struct {
	ListenAddr      string
	PostgresDSN     string
	GinMode         string
	LogLevel        string
	PublicBaseURL   string        // externally reachable base URL, used to build bank callback URLs
	ProviderTimeout time.Duration // bound on every provider HTTP/SOAP round-trip
}

func Load() Config {
	return Config{
		ListenAddr:      getenv("PAYGATE_LISTEN_ADDR", ":8080"),
		PostgresDSN:     getenv("PAYGATE_POSTGRES_DSN", "host=localhost user=paygate dbname=paygate sslmode=disable"),
		GinMode:         getenv("PAYGATE_GIN_MODE", "release"),
		LogLevel:        getenv("PAYGATE_LOG_LEVEL", "info"),
		PublicBaseURL:   getenv("PAYGATE_PUBLIC_BASE_URL", "http://localhost:8080"),
		ProviderTimeout: getdur("PAYGATE_PROVIDER_TIMEOUT_SECONDS", 10*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
