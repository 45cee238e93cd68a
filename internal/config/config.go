// Package config loads and validates service configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime parameters of the access service.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// PGDSN is the PostgreSQL connection string. Empty selects the
	// in-memory store.
	PGDSN string

	// SigningKeyPath points to a PEM-encoded EC P-521 private key. Empty
	// generates an ephemeral key.
	SigningKeyPath string
	// IssuerName is the iss claim of minted tokens.
	IssuerName string
	// KeyID is the kid published in the JWKS.
	KeyID string

	UserTokenValidity        time.Duration
	TransactionTokenValidity time.Duration
	CriticalTokenAge         time.Duration

	// ScopeCacheSize enables the resolver cache when positive.
	ScopeCacheSize int
	ScopeCacheTTL  time.Duration

	// RateLimitRPS and RateLimitBurst bound per-client request rates on the
	// auth endpoints.
	RateLimitRPS   float64
	RateLimitBurst int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
}

// Load reads configuration from ACCESS_* environment variables, applying
// defaults for everything optional.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:           getEnvDefault("ACCESS_ADDR", ":8080"),
		PGDSN:          os.Getenv("ACCESS_PG_DSN"),
		SigningKeyPath: os.Getenv("ACCESS_SIGNING_KEY"),
		IssuerName:     getEnvDefault("ACCESS_ISSUER", "access"),
		KeyID:          getEnvDefault("ACCESS_KEY_ID", "access-es512"),
	}
	var err error

	if cfg.UserTokenValidity, err = getEnvDuration("ACCESS_USER_TOKEN_VALIDITY", 365*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TransactionTokenValidity, err = getEnvDuration("ACCESS_TXN_TOKEN_VALIDITY", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CriticalTokenAge, err = getEnvDuration("ACCESS_CRITICAL_TOKEN_AGE", time.Hour); err != nil {
		return nil, err
	}

	if cfg.ScopeCacheSize, err = getEnvInt("ACCESS_SCOPE_CACHE_SIZE", 0); err != nil {
		return nil, err
	}
	if cfg.ScopeCacheTTL, err = getEnvDuration("ACCESS_SCOPE_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}

	if cfg.RateLimitRPS, err = getEnvFloat("ACCESS_RATE_LIMIT_RPS", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getEnvInt("ACCESS_RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("ACCESS_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("ACCESS_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("ACCESS_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("ACCESS_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnvDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, val)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (use Go format: 30s, 15m, 1h)", key, val)
	}
	return d, nil
}
