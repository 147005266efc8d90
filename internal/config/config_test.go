package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/powerstation")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("CLOUD_BASE_URL", "https://api.example.com")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.SnapshotTTL != 10*time.Minute {
		t.Fatalf("snapshot ttl = %v", cfg.SnapshotTTL)
	}
}

func TestLoadMissingDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CLOUD_BASE_URL", "https://api.example.com")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing database url")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "http_addr: \":9999\"\npoll_interval: 5m\nwebhook_channel: ops\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":7777")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Fatalf("env must override file, got %q", cfg.HTTPAddr)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Fatalf("file value not applied: %v", cfg.PollInterval)
	}
	if cfg.WebhookChannel != "ops" {
		t.Fatalf("webhook channel = %q", cfg.WebhookChannel)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
