// Package config provides environment-aware configuration loading for the
// control plane services.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment tier; it gates the strict-mode checks
// described in the signer and audit chain designs.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment parses a raw string into a known Environment.
func ParseEnvironment(raw string) (Environment, bool) {
	switch Environment(strings.ToLower(strings.TrimSpace(raw))) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

// Config holds configuration shared by the sentinelserver and
// sentinelconsumer binaries.
type Config struct {
	Env Environment

	// HTTP
	Addr string

	// Database
	DatabaseDSN string

	// Redis (policy/signer cache)
	RedisAddr string
	RedisDB   int

	// Signer
	RequireKMS       bool
	KMSKeyID         string
	SigningProxyURL  string
	SigningProxyKey  string
	DevSkipMTLS      bool
	LocalDevHMACKey  []byte

	// Kafka / polling
	KafkaBrokers     []string
	KafkaTopic       string
	KafkaGroupID     string
	UseKafka         bool
	PollInterval     time.Duration

	// Multisig
	DefaultRequiredApprovals int

	// RBAC
	RBACHeader string

	// Logging
	LogLevel  string
	LogFormat string

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int
}

// Load reads configuration from an optional .env file (APP_ENV selects
// config/<env>.env) and then from the process environment, validating
// production-only invariants.
func Load() (*Config, error) {
	envStr := os.Getenv("APP_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid APP_ENV: %s", envStr)
	}

	configFile := fmt.Sprintf("config/%s.env", env)
	if err := godotenv.Load(configFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", configFile, err)
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.Addr = getEnv("ADDR", ":8080")
	c.DatabaseDSN = getEnv("DATABASE_DSN", "")
	c.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	c.RedisDB = getIntEnv("REDIS_DB", 0)

	c.RequireKMS = getBoolEnv("REQUIRE_KMS", c.Env == Production)
	c.KMSKeyID = getEnv("KMS_KEY_ID", "")
	c.SigningProxyURL = getEnv("SIGNING_PROXY_URL", "")
	c.SigningProxyKey = getEnv("SIGNING_PROXY_API_KEY", "")
	c.DevSkipMTLS = getBoolEnv("DEV_SKIP_MTLS", false)
	if c.DevSkipMTLS && c.Env == Production {
		return fmt.Errorf("DEV_SKIP_MTLS=true is rejected in production")
	}
	c.LocalDevHMACKey = []byte(getEnv("LOCAL_DEV_HMAC_KEY", "local-dev-only-insecure-key"))

	c.KafkaBrokers = splitCSV(getEnv("KAFKA_BROKERS", ""))
	c.KafkaTopic = getEnv("KAFKA_TOPIC", "audit-events")
	c.KafkaGroupID = getEnv("KAFKA_GROUP_ID", "sentinel-policy-consumer")
	c.UseKafka = len(c.KafkaBrokers) > 0
	pollSeconds := getIntEnv("POLL_INTERVAL_SECONDS", 5)
	c.PollInterval = time.Duration(pollSeconds) * time.Second

	c.DefaultRequiredApprovals = getIntEnv("DEFAULT_REQUIRED_APPROVALS", 3)

	c.RBACHeader = getEnv("RBAC_HEADER", "x-sentinel-roles")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.RateLimitRPS = getIntEnv("RATE_LIMIT_RPS", 100)
	c.RateLimitBurst = getIntEnv("RATE_LIMIT_BURST", 200)

	if c.Env == Production {
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required in production")
		}
		if c.RequireKMS && c.KMSKeyID == "" && c.SigningProxyURL == "" {
			return fmt.Errorf("REQUIRE_KMS=true requires KMS_KEY_ID or SIGNING_PROXY_URL")
		}
	}

	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func getBoolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
