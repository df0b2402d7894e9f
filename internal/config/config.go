// Package config defines the flag/env-bound settings cmd/tespapi loads at
// startup, following the same envOrDefault convention used elsewhere in
// this stack's command-line entry points.
package config

import (
	"os"
	"strconv"
)

// Config holds every externally supplied option this service recognizes.
type Config struct {
	HTTPAddr string

	StoreDriver string // "sqlite" or "postgres"
	StoreDSN    string

	PulsarURL          string
	PulsarFlavour      string // "rest" or "amqp"
	PulsarPollInterval int    // seconds
	PulsarMaxPolls     int

	LogLevel string
	LogJSON  bool
}

// Default returns a Config seeded with this service's defaults, with any
// set environment variable applied over them; flag overrides are applied
// later by the caller.
func Default() *Config {
	return &Config{
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		StoreDriver:        envOrDefault("STORE_DRIVER", "sqlite"),
		StoreDSN:           envOrDefault("STORE_DSN", "./tespapi.db"),
		PulsarURL:          envOrDefault("PULSAR_URL", "http://localhost:8088"),
		PulsarFlavour:      envOrDefault("PULSAR_FLAVOUR", "rest"),
		PulsarPollInterval: envOrDefaultInt("PULSAR_POLL_INTERVAL", 2),
		PulsarMaxPolls:     envOrDefaultInt("PULSAR_MAX_POLLS", 150),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogJSON:            envOrDefault("LOG_JSON", "false") == "true",
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
