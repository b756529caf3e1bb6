// Package config builds service configuration from the environment so main
// stays lean. A local .env file is honored in development via godotenv.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process-level configuration.
type Server struct {
	Addr string

	// Postgres connection string. Empty selects in-memory stores (dev/test).
	DatabaseURL string

	// PEM file paths for the RSA keypair. Empty PrivateKeyPath generates an
	// ephemeral dev keypair at startup.
	PrivateKeyPath string
	PublicKeyPath  string
	KeyID          string

	// Token claims configuration.
	Issuer     string
	Audience   string
	DefaultTTL time.Duration
	MaxTTL     time.Duration

	// Admin credential for issue/revoke/passport-create endpoints.
	AdminToken string

	// Optional revocation fan-out channel. Empty disables the notifier.
	RedisURL string

	// Optional audit stream mirror. Empty disables the Kafka publisher.
	KafkaBrokers    string
	AuditTopic      string
	ShutdownTimeout time.Duration
}

// FromEnv reads configuration from environment variables, applying defaults
// suitable for local development.
func FromEnv() Server {
	_ = godotenv.Load()

	return Server{
		Addr:            getenv("KATHA_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("KATHA_DATABASE_URL"),
		PrivateKeyPath:  os.Getenv("KATHA_PRIVATE_KEY_PATH"),
		PublicKeyPath:   os.Getenv("KATHA_PUBLIC_KEY_PATH"),
		KeyID:           getenv("KATHA_KEY_ID", "katha-consent-1"),
		Issuer:          getenv("KATHA_TOKEN_ISSUER", "katha-consent-core"),
		Audience:        getenv("KATHA_TOKEN_AUDIENCE", "katha-vault"),
		DefaultTTL:      getduration("KATHA_TOKEN_TTL", 24*time.Hour),
		MaxTTL:          getduration("KATHA_TOKEN_MAX_TTL", 90*24*time.Hour),
		AdminToken:      os.Getenv("KATHA_ADMIN_TOKEN"),
		RedisURL:        os.Getenv("KATHA_REDIS_URL"),
		KafkaBrokers:    os.Getenv("KATHA_KAFKA_BROKERS"),
		AuditTopic:      getenv("KATHA_AUDIT_TOPIC", "katha.audit.entries"),
		ShutdownTimeout: getduration("KATHA_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
