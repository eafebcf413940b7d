package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated, defaulted runtime configuration for the
// synchronization core.
type Config struct {
	Port string

	GoEnv          string
	LogLevel       string
	AllowedOrigins string

	IdleTimeout       time.Duration
	WriteIdleTimeout  time.Duration
	HandshakeTimeout  time.Duration
	MaxFrameBytes     int64
	RoomSweepInterval time.Duration
}

// ValidateEnv validates all environment variables and returns a Config.
// Collects every validation failure before returning, rather than bailing
// out on the first one, so a misconfigured deployment sees the whole list.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")

	cfg.IdleTimeout = durationOrDefault("IDLE_TIMEOUT", 60*time.Second, &errors)
	cfg.WriteIdleTimeout = durationOrDefault("WRITE_IDLE_TIMEOUT", 30*time.Second, &errors)
	cfg.HandshakeTimeout = durationOrDefault("HANDSHAKE_TIMEOUT", 10*time.Second, &errors)
	cfg.RoomSweepInterval = durationOrDefault("ROOM_SWEEP_INTERVAL", 30*time.Second, &errors)

	cfg.MaxFrameBytes = 65536
	if raw := os.Getenv("MAX_FRAME_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			errors = append(errors, fmt.Sprintf("MAX_FRAME_BYTES must be a positive integer (got '%s')", raw))
		} else {
			cfg.MaxFrameBytes = n
		}
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// durationOrDefault parses key as a duration, recording a problem and
// falling back to def if the value is present but invalid.
func durationOrDefault(key string, def time.Duration, errs *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive duration (got '%s')", key, raw))
		return def
	}
	return d
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"allowed_origins", cfg.AllowedOrigins,
		"idle_timeout", cfg.IdleTimeout,
		"write_idle_timeout", cfg.WriteIdleTimeout,
		"handshake_timeout", cfg.HandshakeTimeout,
		"max_frame_bytes", cfg.MaxFrameBytes,
		"room_sweep_interval", cfg.RoomSweepInterval,
	)
}
