package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "podium.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "session:\n  pin: \"1234\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.PIN != "1234" {
		t.Fatalf("pin = %q", cfg.Session.PIN)
	}
	if cfg.Server.Port != 48632 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Session.MaxViewers != 100 {
		t.Fatalf("max viewers = %d", cfg.Session.MaxViewers)
	}
	if cfg.RateLimit.Disabled {
		t.Fatal("rate limiting disabled by default")
	}
	if cfg.RateLimit.MaxPerWindow != 5 {
		t.Fatalf("max per window = %d", cfg.RateLimit.MaxPerWindow)
	}
	if cfg.Images.MaxEntries != 100 {
		t.Fatalf("image cache entries = %d", cfg.Images.MaxEntries)
	}
	if cfg.Pipeline.ContentDebounce != 100*time.Millisecond {
		t.Fatalf("content debounce = %v", cfg.Pipeline.ContentDebounce)
	}
	if cfg.Tunnel.Binary != "cloudflared" {
		t.Fatalf("tunnel binary = %q", cfg.Tunnel.Binary)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PODIUM_TEST_PIN", "9876")
	path := writeConfig(t, "session:\n  pin: \"${PODIUM_TEST_PIN}\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.PIN != "9876" {
		t.Fatalf("pin = %q", cfg.Session.PIN)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
session:
  max_viewers: 5
  presenter_name: Ada
rate_limit:
  disabled: true
  max_per_window: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Session.MaxViewers != 5 || cfg.Session.PresenterName != "Ada" {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if !cfg.RateLimit.Disabled || cfg.RateLimit.MaxPerWindow != 2 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 48632 || cfg.Logging.Level != "info" {
		t.Fatalf("defaults = %+v", cfg)
	}
}
