package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Port      string `env:"PORT"`
	PublicURL string `env:"PUBLIC_URL"`

	DatabaseURL              string `env:"DATABASE_URL"`
	DBMaxOpenConns           int    `env:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `env:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeSeconds int    `env:"DB_CONN_MAX_LIFETIME_SECONDS"`
	DBConnMaxIdleTimeSeconds int    `env:"DB_CONN_MAX_IDLE_SECONDS"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL"`

	StoreTimeout         time.Duration `env:"STORE_TIMEOUT"`
	FakeImageTimeout     time.Duration `env:"FAKE_IMAGE_TIMEOUT"`
	FakeImageAttempts    int           `env:"FAKE_IMAGE_ATTEMPTS"`
	FakeImageBaseURL     string        `env:"FAKE_IMAGE_BASE_URL"`
	FakeImageFallbackURL string        `env:"FAKE_IMAGE_FALLBACK_URL"`
	MaxImageBytes        int64         `env:"MAX_IMAGE_BYTES"`

	CORSOrigins        []string `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitPerSecond float64  `env:"RATE_LIMIT_PER_SECOND"`
	RateLimitBurst     int      `env:"RATE_LIMIT_BURST"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

func Default() Config {
	return Config{
		Port:                     "8080",
		PublicURL:                "http://localhost:8080",
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
		TokenTTL:                 12 * time.Hour,
		StoreTimeout:             5 * time.Second,
		FakeImageTimeout:         5 * time.Second,
		FakeImageAttempts:        10,
		FakeImageBaseURL:         "https://picsum.photos",
		MaxImageBytes:            5 << 20,
		CORSOrigins:              []string{"*"},
		RateLimitPerSecond:       5,
		RateLimitBurst:           10,
		LogLevel:                 "info",
		LogFormat:                "console",
	}
}

// Load overlays environment variables on Default. Non-positive numeric
// values keep their defaults.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return Default(), fmt.Errorf("parse env: %w", err)
	}
	defaults := Default()
	if cfg.DBMaxOpenConns <= 0 {
		cfg.DBMaxOpenConns = defaults.DBMaxOpenConns
	}
	if cfg.DBMaxIdleConns <= 0 {
		cfg.DBMaxIdleConns = defaults.DBMaxIdleConns
	}
	if cfg.DBConnMaxLifetimeSeconds <= 0 {
		cfg.DBConnMaxLifetimeSeconds = defaults.DBConnMaxLifetimeSeconds
	}
	if cfg.DBConnMaxIdleTimeSeconds <= 0 {
		cfg.DBConnMaxIdleTimeSeconds = defaults.DBConnMaxIdleTimeSeconds
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaults.StoreTimeout
	}
	if cfg.FakeImageTimeout <= 0 {
		cfg.FakeImageTimeout = defaults.FakeImageTimeout
	}
	if cfg.FakeImageAttempts <= 0 {
		cfg.FakeImageAttempts = defaults.FakeImageAttempts
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaults.MaxImageBytes
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = defaults.RateLimitPerSecond
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaults.RateLimitBurst
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return ":" + c.Port
}
