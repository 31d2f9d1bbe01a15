package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KEYGATE_SESSION_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.Environment != EnvDevelopment {
		t.Fatalf("unexpected environment: %q", cfg.Environment)
	}
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Fatalf("unexpected ttl: %v", cfg.SessionTTL)
	}
	if cfg.IsTest() {
		t.Fatal("development must not enable test logins")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("KEYGATE_SESSION_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without session secret")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("KEYGATE_SESSION_SECRET", "test-secret")
	t.Setenv("KEYGATE_ENV", "test")
	t.Setenv("KEYGATE_SESSION_TTL", "24h")
	t.Setenv("KEYGATE_RATE_BURST", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsTest() {
		t.Fatal("expected test environment")
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl: %v", cfg.SessionTTL)
	}
	if cfg.RateBurst != 5 {
		t.Fatalf("unexpected burst: %d", cfg.RateBurst)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("KEYGATE_SESSION_SECRET", "test-secret")

	t.Setenv("KEYGATE_ENV", "staging")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown environment")
	}
	t.Setenv("KEYGATE_ENV", "production")
	t.Setenv("KEYGATE_PAYMENT_API_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for production without payment API")
	}
}
