// Package config builds runtime configuration from the environment so
// main stays lean. Every knob has a development default; production
// deployments override through CHRONICLE_* variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"chronicle/internal/audit/compliance"
	"chronicle/internal/audit/models"
)

// Config captures everything the server needs at startup.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// PostgresDSN selects the durable store. Empty runs on the memory
	// store, which is fine for development and tests only.
	PostgresDSN string

	// RedisURL enables the download-token cache. Empty disables it.
	RedisURL string

	// KafkaBrokers enables the SIEM sink. Empty disables it.
	KafkaBrokers []string
	KafkaTopic   string

	// JWTSigningKey verifies bearer tokens on the HTTP boundary.
	JWTSigningKey string

	// SystemTenantID is the tenant compliance self-audit records are
	// written under. Empty disables self-logging.
	SystemTenantID string

	// RetentionDays bounds event age for the scheduled expiry.
	RetentionDays int
	// RetentionSchedule is the cron spec of the expiry pass.
	RetentionSchedule string

	// ExportDir is where export artifacts are written.
	ExportDir string
	// ExportDownloadTTL bounds artifact availability after completion.
	ExportDownloadTTL time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// FromEnv builds the config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:              envOr("CHRONICLE_ADDR", ":8080"),
		PostgresDSN:       os.Getenv("CHRONICLE_POSTGRES_DSN"),
		RedisURL:          os.Getenv("CHRONICLE_REDIS_URL"),
		KafkaBrokers:      splitList(os.Getenv("CHRONICLE_KAFKA_BROKERS")),
		KafkaTopic:        envOr("CHRONICLE_KAFKA_TOPIC", "chronicle.audit.events"),
		JWTSigningKey:     envOr("CHRONICLE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		SystemTenantID:    os.Getenv("CHRONICLE_SYSTEM_TENANT_ID"),
		RetentionDays:     envInt("CHRONICLE_RETENTION_DAYS", compliance.DefaultRetentionDays),
		RetentionSchedule: envOr("CHRONICLE_RETENTION_SCHEDULE", compliance.DefaultRetentionSchedule),
		ExportDir:         envOr("CHRONICLE_EXPORT_DIR", os.TempDir()),
		ExportDownloadTTL: envDuration("CHRONICLE_EXPORT_DOWNLOAD_TTL", models.DefaultDownloadTTL),
		ShutdownTimeout:   envDuration("CHRONICLE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
