package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.UserTokenValidity != 365*24*time.Hour {
		t.Fatalf("unexpected user token validity: %v", cfg.UserTokenValidity)
	}
	if cfg.TransactionTokenValidity != 5*time.Minute {
		t.Fatalf("unexpected transaction token validity: %v", cfg.TransactionTokenValidity)
	}
	if cfg.CriticalTokenAge != time.Hour {
		t.Fatalf("unexpected critical token age: %v", cfg.CriticalTokenAge)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACCESS_ADDR", ":9999")
	t.Setenv("ACCESS_TXN_TOKEN_VALIDITY", "90s")
	t.Setenv("ACCESS_RATE_LIMIT_BURST", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.TransactionTokenValidity != 90*time.Second {
		t.Fatalf("unexpected transaction token validity: %v", cfg.TransactionTokenValidity)
	}
	if cfg.RateLimitBurst != 5 {
		t.Fatalf("unexpected burst: %d", cfg.RateLimitBurst)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("ACCESS_CRITICAL_TOKEN_AGE", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
