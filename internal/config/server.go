// Package config provides configuration management for Passify.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	// DataDir holds the vault key, credential blob, and pass database.
	DataDir string
	// ConfigFile is the path to the YAML issuance configuration.
	ConfigFile string
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m").
	RateLimitPeriod string
	// WalletTimeout bounds every wallet backend round trip.
	WalletTimeout time.Duration
	// ReconcileSchedule is the cron spec for the pass state reconciler.
	ReconcileSchedule string
	// OrderSourceURL is the base URL of the commerce backend API.
	OrderSourceURL string
	// OrderSourceToken authenticates requests to the commerce backend.
	OrderSourceToken string
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "/var/lib/passify"
	}

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "passify.yml"
	}

	var origins []string
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	walletTimeout := getEnvDuration("WALLET_TIMEOUT", 30*time.Second)

	reconcileSchedule := os.Getenv("RECONCILE_SCHEDULE")
	if reconcileSchedule == "" {
		reconcileSchedule = "@every 15m"
	}

	return ServerConfig{
		Environment:       env,
		DataDir:           dataDir,
		ConfigFile:        configFile,
		AllowedOrigins:    origins,
		RateLimitRequests: getEnvInt64("RATE_LIMIT_REQUESTS", 100),
		RateLimitPeriod:   getEnvDefault("RATE_LIMIT_PERIOD", "1m"),
		WalletTimeout:     walletTimeout,
		ReconcileSchedule: reconcileSchedule,
		OrderSourceURL:    os.Getenv("ORDER_SOURCE_URL"),
		OrderSourceToken:  os.Getenv("ORDER_SOURCE_TOKEN"),
	}
}

// getEnvDefault reads a string from an environment variable with a default.
func getEnvDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt64 reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a duration from an environment variable, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
