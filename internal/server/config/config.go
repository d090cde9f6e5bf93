// Package config handles configuration for the server component,
// including defaults, JSON overlay, environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
)

const minSecretKeyLen = 16

// ErrInvalidConfig is returned by Validate and LoadConfig.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds runtime settings for the sessionkeeper server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the HTTP endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty keeps owners in memory.
//   - TokenStore: refresh-token backend, one of postgres, redis or memory.
//   - SecretKey: HMAC secret for signing session cookies (HS256).
//   - RefreshTokenValidityDuration: refresh-token horizon.
//   - SessionWindow: sliding session cookie window.
//   - RenewalWindow: how long before SessionWindow ends a request rotates.
type Config struct {
	EndpointAddrHTTP             string        `env:"SK_HTTP_ADDR"`
	DatabaseDSN                  string        `env:"SK_DATABASE_DSN"`
	TokenStore                   string        `env:"SK_TOKEN_STORE"`
	RedisAddr                    string        `env:"SK_REDIS_ADDR"`
	RedisPassword                string        `env:"SK_REDIS_PASSWORD"`
	RedisDB                      int           `env:"SK_REDIS_DB"`
	SecretKey                    string        `env:"SK_SECRET_KEY"`
	RefreshTokenValidityDuration time.Duration `env:"SK_REFRESH_TOKEN_VALIDITY"`
	SessionWindow                time.Duration `env:"SK_SESSION_WINDOW"`
	RenewalWindow                time.Duration `env:"SK_RENEWAL_WINDOW"`
	CookieSecure                 bool          `env:"SK_COOKIE_SECURE"`
	CookieDomain                 string        `env:"SK_COOKIE_DOMAIN"`
	LogLevel                     string        `env:"SK_LOG_LEVEL"`
	LogFormat                    string        `env:"SK_LOG_FORMAT"`
	RateLimitRPS                 float64       `env:"SK_RATE_LIMIT_RPS"`
	RateLimitBurst               int           `env:"SK_RATE_LIMIT_BURST"`
	ShutdownTimeout              time.Duration `env:"SK_SHUTDOWN_TIMEOUT"`
}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey must be overridden outside development.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.DatabaseDSN = ""
	c.TokenStore = common.StoreMemory
	c.RedisAddr = "127.0.0.1:6379"
	c.RedisPassword = ""
	c.RedisDB = 0
	c.SecretKey = "development-secret-key"
	c.RefreshTokenValidityDuration = 14 * 24 * time.Hour
	c.SessionWindow = 10 * time.Minute
	c.RenewalWindow = 2 * time.Minute
	c.CookieSecure = false
	c.CookieDomain = ""
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.RateLimitRPS = 5
	c.RateLimitBurst = 10
	c.ShutdownTimeout = 10 * time.Second
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.SessionWindow <= 0:
		return fmt.Errorf("%w: session window must be positive", ErrInvalidConfig)
	case c.RenewalWindow <= 0:
		return fmt.Errorf("%w: renewal window must be positive", ErrInvalidConfig)
	case c.RenewalWindow >= c.SessionWindow:
		return fmt.Errorf("%w: renewal window %s must be shorter than session window %s",
			ErrInvalidConfig, c.RenewalWindow, c.SessionWindow)
	case c.RefreshTokenValidityDuration < c.SessionWindow:
		return fmt.Errorf("%w: refresh token validity must not be shorter than session window", ErrInvalidConfig)
	case len(c.SecretKey) < minSecretKeyLen:
		return fmt.Errorf("%w: secret key must be at least %d bytes", ErrInvalidConfig, minSecretKeyLen)
	}

	switch c.TokenStore {
	case common.StoreMemory, common.StoreRedis:
	case common.StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%w: token store %q needs a database DSN", ErrInvalidConfig, c.TokenStore)
		}
	default:
		return fmt.Errorf("%w: unknown token store %q", ErrInvalidConfig, c.TokenStore)
	}
	return nil
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment and finally command-line flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
