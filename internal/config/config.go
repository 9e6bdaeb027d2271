package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	// MetricsListenAddr is where the worker exposes /metrics and /healthz.
	// The API serves both on its main listener instead.
	MetricsListenAddr string
	ServiceName       string
	LogLevel          string

	// ServersFile is the YAML fleet definition (panel servers).
	ServersFile string

	// PanelTimeout bounds every single panel HTTP call.
	PanelTimeout time.Duration
	// FanoutTimeout bounds a whole multi-server operation; servers still
	// outstanding when it fires are treated as unreachable.
	FanoutTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBaseBackoff  time.Duration
	OutboxMaxAttempts  int

	ReconcileInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		HTTPListenAddr:     getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsListenAddr:  getEnv("METRICS_LISTEN_ADDR", ":9091"),
		ServiceName:        getEnv("SERVICE_NAME", "keyfleet"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ServersFile:        getEnv("SERVERS_FILE", "servers.yaml"),
		PanelTimeout:       getEnvDuration("PANEL_TIMEOUT", 15*time.Second),
		FanoutTimeout:      getEnvDuration("FANOUT_TIMEOUT", 45*time.Second),
		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 30*time.Second),
		OutboxBaseBackoff:  getEnvDuration("OUTBOX_BASE_BACKOFF", time.Minute),
		OutboxMaxAttempts:  getEnvInt("OUTBOX_MAX_ATTEMPTS", 8),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", time.Hour),
	}

	return cfg, nil
}

// Validate checks the fields a given component cannot run without.
func (c *Config) Validate(component string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s: DATABASE_URL is required", component)
	}
	if c.ServersFile == "" {
		return fmt.Errorf("%s: SERVERS_FILE is required", component)
	}
	if c.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("%s: OUTBOX_MAX_ATTEMPTS must be positive", component)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
