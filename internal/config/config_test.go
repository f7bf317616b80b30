package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GMAILDU_CONFIG_DIR", "/tmp/gmaildu-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Concurrency != 16 {
		t.Errorf("Concurrency = %d; want 16", cfg.Concurrency)
	}
	if cfg.PageSize != 500 {
		t.Errorf("PageSize = %d; want 500", cfg.PageSize)
	}
	if cfg.MaxAttempts != 6 {
		t.Errorf("MaxAttempts = %d; want 6", cfg.MaxAttempts)
	}
	if cfg.RetryBase != time.Second {
		t.Errorf("RetryBase = %v; want 1s", cfg.RetryBase)
	}
	if cfg.RetryCap != 60*time.Second {
		t.Errorf("RetryCap = %v; want 60s", cfg.RetryCap)
	}
	if cfg.DBPath == "" {
		t.Error("DBPath should default under the config dir")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GMAILDU_CONFIG_DIR", "/tmp/gmaildu-conf")
	t.Setenv("GMAILDU_DB", "/tmp/other.db")
	t.Setenv("GMAILDU_CONCURRENCY", "4")
	t.Setenv("GMAILDU_PAGE_SIZE", "100")
	t.Setenv("GMAILDU_MAX_ATTEMPTS", "2")
	t.Setenv("GMAILDU_RETRY_BASE", "50ms")
	t.Setenv("GMAILDU_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Concurrency != 4 || cfg.PageSize != 100 || cfg.MaxAttempts != 2 {
		t.Errorf("numeric overrides not applied: %+v", cfg)
	}
	if cfg.RetryBase != 50*time.Millisecond {
		t.Errorf("RetryBase = %v; want 50ms", cfg.RetryBase)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
}

func TestLoadClampsNonsense(t *testing.T) {
	t.Setenv("GMAILDU_CONFIG_DIR", "/tmp/gmaildu-conf")
	t.Setenv("GMAILDU_CONCURRENCY", "0")
	t.Setenv("GMAILDU_MAX_ATTEMPTS", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Concurrency != 1 {
		t.Errorf("Concurrency = %d; want clamp to 1", cfg.Concurrency)
	}
	if cfg.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d; want clamp to 1", cfg.MaxAttempts)
	}
}
