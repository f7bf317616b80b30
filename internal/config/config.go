package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the runtime settings, read once from the environment.
type Config struct {
	ConfigDir string // holds client_secret.json and token.json
	DBPath    string

	Concurrency int   // concurrent detail fetches in flight
	PageSize    int64 // listing page size

	MaxAttempts int // per-call attempt cap, retries included
	RetryBase   time.Duration
	RetryCap    time.Duration

	Debug bool
}

// Load builds a Config from GMAILDU_* environment variables, falling back to
// defaults under ~/.config/gmaildu.
func Load() (Config, error) {
	cfg := Config{
		ConfigDir:   getEnvString("GMAILDU_CONFIG_DIR", ""),
		DBPath:      getEnvString("GMAILDU_DB", ""),
		Concurrency: getEnvInt("GMAILDU_CONCURRENCY", 16),
		PageSize:    int64(getEnvInt("GMAILDU_PAGE_SIZE", 500)),
		MaxAttempts: getEnvInt("GMAILDU_MAX_ATTEMPTS", 6),
		RetryBase:   getEnvDuration("GMAILDU_RETRY_BASE", time.Second),
		RetryCap:    getEnvDuration("GMAILDU_RETRY_CAP", 60*time.Second),
		Debug:       getEnvBool("GMAILDU_DEBUG", false),
	}

	if cfg.ConfigDir == "" || cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("determine home directory: %w", err)
		}
		if cfg.ConfigDir == "" {
			cfg.ConfigDir = filepath.Join(home, ".config", "gmaildu")
		}
		if cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(cfg.ConfigDir, "gmaildu.db")
		}
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 500
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return cfg, nil
}

func getEnvString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
