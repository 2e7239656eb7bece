// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.Host != "" {
		t.Errorf("Host should be empty by default (bind all), got: %s", cfg.Host)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected sqlite3 driver, got %s", cfg.Database.Driver)
	}
	if cfg.Heartbeat.Interval != "5m" || cfg.Heartbeat.Timeout != "5s" || cfg.Heartbeat.FreshnessWindow != "10m" {
		t.Errorf("unexpected heartbeat defaults: %+v", cfg.Heartbeat)
	}
	if cfg.Routing.MaxTotalAttempts != 5 {
		t.Errorf("expected max total attempts 5, got %d", cfg.Routing.MaxTotalAttempts)
	}
	if cfg.Ledger.Timezone != "UTC" {
		t.Errorf("expected UTC ledger timezone, got %s", cfg.Ledger.Timezone)
	}
	if cfg.Context.TokenEstimator != "tiktoken" {
		t.Errorf("expected tiktoken estimator, got %s", cfg.Context.TokenEstimator)
	}
}

func TestLoadConfig_MissingOptional(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("optional load should not fail: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("expected defaults, got port %d", cfg.Port)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing required config")
	}
}

func TestLoadConfig_Providers(t *testing.T) {
	content := `
providers:
  - id: " openai-main "
    type: OpenAI
    priority: 1
    credential: env:OPENAI_API_KEY
    models: [gpt-4o-mini, " gpt-4o-mini ", ""]
    max-requests-per-minute: 60
    max-cost-per-day: 5
    timeout: bogus
    headers: {" X-Team ": " tutors ", "X-Empty": ""}
    pricing:
      gpt-4o-mini: {input: 0.15, output: 0.6}
  - id: ""
    type: ollama
  - id: openai-main
    type: ollama
  - id: local
    type: ollama
    enabled: false
    priority: 2
    retry-attempts: 3
    check-interval: 1s
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers after sanitize, got %d", len(cfg.Providers))
	}

	p := cfg.Providers[0]
	if p.ID != "openai-main" || p.Type != "openai" || p.Name != "openai-main" {
		t.Errorf("unexpected normalization: %+v", p)
	}
	if len(p.Models) != 1 || p.Models[0] != "gpt-4o-mini" {
		t.Errorf("models not normalized: %v", p.Models)
	}
	if p.Timeout != "30s" {
		t.Errorf("invalid timeout should default to 30s, got %q", p.Timeout)
	}
	if p.RetryAttempts != 1 {
		t.Errorf("retry attempts should default to 1, got %d", p.RetryAttempts)
	}
	if p.Headers["X-Team"] != "tutors" || len(p.Headers) != 1 {
		t.Errorf("headers not normalized: %v", p.Headers)
	}
	if p.Pricing["gpt-4o-mini"].Output != 0.6 {
		t.Errorf("pricing not parsed: %v", p.Pricing)
	}
	if !p.IsEnabled() {
		t.Error("absent enabled flag should mean enabled")
	}

	local := cfg.Providers[1]
	if local.IsEnabled() {
		t.Error("explicit enabled: false not respected")
	}
	if local.RetryAttempts != 3 {
		t.Errorf("retry attempts overwritten: %d", local.RetryAttempts)
	}
	if local.CheckInterval != "" {
		t.Errorf("too-short check interval should be cleared, got %q", local.CheckInterval)
	}
}

func TestSanitizeHeartbeat(t *testing.T) {
	cfg := &Config{Heartbeat: HeartbeatConfig{
		Interval:            "1s",
		Timeout:             "10ms",
		SlowThreshold:       "nope",
		RetryAttempts:       12,
		RetryDelay:          "1ms",
		MaxConcurrentChecks: 500,
	}}
	cfg.SanitizeHeartbeat()

	hb := cfg.Heartbeat
	if hb.Interval != "5m" || hb.Timeout != "5s" || hb.SlowThreshold != "2s" || hb.FreshnessWindow != "10m" {
		t.Errorf("durations not sanitized: %+v", hb)
	}
	if hb.RetryAttempts != 5 || hb.RetryDelay != "1s" || hb.MaxConcurrentChecks != 50 {
		t.Errorf("limits not clamped: %+v", hb)
	}
}

func TestIntervalsClampedToFreshnessWindow(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `heartbeat:
  interval: 15m
providers:
  - id: slow
    type: openai
    check-interval: 30m
  - id: fast
    type: openai
    check-interval: 2m
`))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if d := ParseDurationOr(cfg.Heartbeat.Interval, 0); d != 10*time.Minute {
		t.Errorf("heartbeat interval = %q, want clamped to 10m", cfg.Heartbeat.Interval)
	}
	if d := ParseDurationOr(cfg.Providers[0].CheckInterval, 0); d != 10*time.Minute {
		t.Errorf("check-interval = %q, want clamped to 10m", cfg.Providers[0].CheckInterval)
	}
	if cfg.Providers[1].CheckInterval != "2m" {
		t.Errorf("check-interval within the window changed: %q", cfg.Providers[1].CheckInterval)
	}

	hb := HeartbeatConfig{FreshnessWindow: "1m"}
	if got := hb.ClampCheckInterval("90s"); got != "1m0s" {
		t.Errorf("ClampCheckInterval(90s) = %q", got)
	}
	if got := hb.ClampCheckInterval("5s"); got != "" {
		t.Errorf("ClampCheckInterval(5s) = %q", got)
	}
}

func TestSanitizeLedgerTimezone(t *testing.T) {
	cfg, err := ParseConfig([]byte("ledger:\n  timezone: Mars/Olympus\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ledger.Timezone != "UTC" || cfg.Location() != time.UTC {
		t.Errorf("invalid timezone should fall back to UTC, got %s", cfg.Ledger.Timezone)
	}

	cfg, _ = ParseConfig([]byte("ledger:\n  timezone: Europe/Berlin\n"))
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("expected Europe/Berlin, got %s", cfg.Location())
	}
}

func TestDatabaseDriverAliases(t *testing.T) {
	for in, want := range map[string]string{"postgres": "pgx", "sqlite": "sqlite3", "oracle": "sqlite3", "": "sqlite3"} {
		cfg, err := ParseConfig([]byte("database:\n  driver: \"" + in + "\"\n  dsn: x\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Database.Driver != want {
			t.Errorf("driver %q -> %q, want %q", in, cfg.Database.Driver, want)
		}
	}
}

func TestManagementKeyHashedAndPersisted(t *testing.T) {
	path := writeConfig(t, "# management\nremote-management:\n  secret-key: s3cret\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !looksLikeBcrypt(cfg.RemoteManagement.SecretKey) {
		t.Fatalf("secret key not hashed: %q", cfg.RemoteManagement.SecretKey)
	}
	if !cfg.CheckManagementKey("s3cret") {
		t.Error("hashed key should verify")
	}
	if cfg.CheckManagementKey("wrong") {
		t.Error("wrong key must not verify")
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "s3cret") {
		t.Error("plaintext key still on disk")
	}
	if !strings.Contains(string(data), "# management") {
		t.Error("comments not preserved")
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.RemoteManagement.SecretKey != cfg.RemoteManagement.SecretKey {
		t.Error("already-hashed key should not be re-hashed")
	}
}

func TestParseDurationOr(t *testing.T) {
	if ParseDurationOr("", time.Second) != time.Second {
		t.Error("empty should return default")
	}
	if ParseDurationOr("250ms", time.Second) != 250*time.Millisecond {
		t.Error("valid duration not parsed")
	}
	if ParseDurationOr("-1s", time.Second) != time.Second {
		t.Error("negative should return default")
	}
}

func TestExampleConfigParses(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("read example: %v", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if len(cfg.Providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(cfg.Providers))
	}
	if cfg.Providers[2].CheckInterval != "1m" {
		t.Errorf("check-interval = %q", cfg.Providers[2].CheckInterval)
	}
	if cfg.Routing.PolicyDir != "./policies" {
		t.Errorf("policy-dir = %q", cfg.Routing.PolicyDir)
	}
}
