package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OUTAGE_WATCH_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scraper.Interval != 10*time.Minute {
		t.Fatalf("expected 10m interval, got %s", cfg.Scraper.Interval)
	}
	if cfg.Detector.ReportCountThreshold != 1000 {
		t.Fatalf("expected default threshold 1000, got %d", cfg.Detector.ReportCountThreshold)
	}
	if len(cfg.Scraper.Services) != 5 {
		t.Fatalf("expected five default services, got %v", cfg.Scraper.Services)
	}
}

func TestLoadFileAndNormaliseServices(t *testing.T) {
	path := writeConfig(t, `
scraper:
  services: [" Google ", "discord", "GOOGLE", ""]
  interval: 2m
detector:
  reportCountThreshold: 250
narrative:
  provider: anthropic
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(cfg.Scraper.Services, ",") != "google,discord" {
		t.Fatalf("unexpected services: %v", cfg.Scraper.Services)
	}
	if cfg.Scraper.Interval != 2*time.Minute || cfg.Detector.ReportCountThreshold != 250 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Narrative.Provider != "anthropic" || cfg.Narrative.MaxTokens != 500 {
		t.Fatalf("expected file override layered over defaults: %+v", cfg.Narrative)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "scraper:\n  retryAttempts: 5\n")
	t.Setenv("OUTAGE_WATCH_SCRAPER_RETRY_ATTEMPTS", "2")
	t.Setenv("OUTAGE_WATCH_EMAIL_RECIPIENTS", "ops@example.com, sre@example.com,")
	t.Setenv("OUTAGE_WATCH_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scraper.RetryAttempts != 2 {
		t.Fatalf("expected env to win, got %d", cfg.Scraper.RetryAttempts)
	}
	if len(cfg.Email.Recipients) != 2 || cfg.Email.Recipients[1] != "sre@example.com" {
		t.Fatalf("unexpected recipients: %v", cfg.Email.Recipients)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsNonPositive(t *testing.T) {
	cfg := Default()
	cfg.Scraper.Interval = 0
	cfg.Detector.ReportCountThreshold = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "scraper.interval") || !strings.Contains(msg, "detector.reportCountThreshold") {
		t.Fatalf("expected both problems reported, got %q", msg)
	}
}
