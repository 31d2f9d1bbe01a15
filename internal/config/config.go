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

// Environment names recognised by the service. The test-credential bypass in
// the validator is only honored under EnvTest.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config carries every knob the service reads from the environment.
type Config struct {
	Addr        string // KEYGATE_ADDR, default ":8080"
	Environment string // KEYGATE_ENV, default "development"

	PostgresDSN string // KEYGATE_PG_DSN, empty enables the in-memory store

	SessionSecret string        // KEYGATE_SESSION_SECRET, required
	SessionTTL    time.Duration // KEYGATE_SESSION_TTL, default 720h (30 days)

	PaymentAPIURL   string // KEYGATE_PAYMENT_API_URL, required in production
	PaymentAPIToken string // KEYGATE_PAYMENT_API_TOKEN

	MailerURL   string // KEYGATE_MAILER_URL, empty disables email delivery
	MailerToken string // KEYGATE_MAILER_TOKEN

	RateBurst  int // KEYGATE_RATE_BURST, default 20
	RatePerSec int // KEYGATE_RATE_PER_SEC, default 10
}

// Load reads configuration from the environment, optionally seeded from a
// .env file when one exists next to the binary.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set variables directly.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Addr:            getenv("KEYGATE_ADDR", ":8080"),
		Environment:     strings.ToLower(getenv("KEYGATE_ENV", EnvDevelopment)),
		PostgresDSN:     os.Getenv("KEYGATE_PG_DSN"),
		SessionSecret:   os.Getenv("KEYGATE_SESSION_SECRET"),
		SessionTTL:      30 * 24 * time.Hour,
		PaymentAPIURL:   os.Getenv("KEYGATE_PAYMENT_API_URL"),
		PaymentAPIToken: os.Getenv("KEYGATE_PAYMENT_API_TOKEN"),
		MailerURL:       os.Getenv("KEYGATE_MAILER_URL"),
		MailerToken:     os.Getenv("KEYGATE_MAILER_TOKEN"),
		RateBurst:       20,
		RatePerSec:      10,
	}

	var err error
	if cfg.RateBurst, err = getint("KEYGATE_RATE_BURST", cfg.RateBurst); err != nil {
		return nil, err
	}
	if cfg.RatePerSec, err = getint("KEYGATE_RATE_PER_SEC", cfg.RatePerSec); err != nil {
		return nil, err
	}

	if raw := os.Getenv("KEYGATE_SESSION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse KEYGATE_SESSION_TTL: %w", err)
		}
		if ttl <= 0 {
			return nil, errors.New("KEYGATE_SESSION_TTL must be positive")
		}
		cfg.SessionTTL = ttl
	}

	switch cfg.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return nil, fmt.Errorf("unknown KEYGATE_ENV %q", cfg.Environment)
	}

	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return nil, errors.New("KEYGATE_SESSION_SECRET is required")
	}
	if cfg.Environment == EnvProduction && strings.TrimSpace(cfg.PaymentAPIURL) == "" {
		return nil, errors.New("KEYGATE_PAYMENT_API_URL is required in production")
	}

	return cfg, nil
}

// IsTest reports whether the test-credential bypass may be honored.
func (c *Config) IsTest() bool { return c.Environment == EnvTest }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return v, nil
}
