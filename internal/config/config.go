// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Policy names accepted in POOL_POLICY.
const (
	PolicyExponential = "exponential"
	PolicyFixed       = "fixed"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"keypool"`

	// APIKeys is the active credential set, comma-delimited. Duplicates are
	// removed at construction.
	APIKeys []string `env:"API_KEYS" envSeparator:","`

	// PoolPolicy selects the cooldown policy: "exponential" grows the
	// penalty with the failure count; "fixed" applies a flat penalty and a
	// short same-key reuse interval.
	PoolPolicy string `env:"POOL_POLICY" envDefault:"exponential"`
	// BackoffBase and BackoffCap parameterize the exponential policy.
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"5m"`
	BackoffCap  time.Duration `env:"BACKOFF_CAP" envDefault:"1h"`
	// FixedPenalty and MinInterval parameterize the fixed policy.
	FixedPenalty time.Duration `env:"FIXED_PENALTY" envDefault:"6h"`
	MinInterval  time.Duration `env:"MIN_INTERVAL" envDefault:"6s"`

	// State store selection: the first non-empty of PostgresURL, RedisAddr
	// and StateFile wins.
	StateFile   string `env:"STATE_FILE" envDefault:"key_states.json"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`
	PostgresURL string `env:"POSTGRES_URL"`

	// Caller retry configuration.
	RetryMaxElapsedTime  time.Duration `env:"RETRY_MAX_ELAPSED_TIME" envDefault:"90s"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"2s"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"20s"`
	RetryMultiplier      float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetRetryConfig returns caller backoff settings appropriate for the current
// environment. Test runs use much shorter intervals.
func (c Config) GetRetryConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 5 * time.Second, 100 * time.Millisecond, 1 * time.Second, 2.0
	}
	return c.RetryMaxElapsedTime, c.RetryInitialInterval, c.RetryMaxInterval, c.RetryMultiplier
}
