package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay server.
type Config struct {
	// Listen settings
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Relay timing
	HeartbeatInterval time.Duration
	ReapInterval      time.Duration
	IdleTimeout       time.Duration

	// Outbound notification endpoint; empty disables notifications.
	NotifyEndpoint string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:          getEnvOrDefault("RELAY_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    splitList(getEnvOrDefault("RELAY_PORT_CANDIDATES", "")),
		PortAutoFallback:  getEnvBoolOrDefault("RELAY_PORT_AUTO_FALLBACK", false),
		HeartbeatInterval: getEnvDurationMS("RELAY_HEARTBEAT_INTERVAL_MS", 30_000),
		ReapInterval:      getEnvDurationMS("RELAY_REAP_INTERVAL_MS", 60_000),
		IdleTimeout:       getEnvDurationMS("RELAY_IDLE_TIMEOUT_MS", 300_000),
		NotifyEndpoint:    getEnvOrDefault("RELAY_NOTIFY_ENDPOINT", ""),
		LogLevel:          strings.ToLower(getEnvOrDefault("RELAY_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("RELAY_LOG_FILE", "logs/tv_relay.log"),
	}

	if cfg.HeartbeatInterval < time.Second {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.ReapInterval < time.Second {
		cfg.ReapInterval = time.Second
	}
	if cfg.IdleTimeout < 10*time.Second {
		cfg.IdleTimeout = 10 * time.Second
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationMS(key string, defaultMS int) time.Duration {
	return time.Duration(getEnvIntOrDefault(key, defaultMS)) * time.Millisecond
}
