package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: true
  level: debug
scheduler:
  concurrency: 6
  default_interval: 5m
  min_interval: 30s
  max_interval: 6h
  hot_factor: 0.25
  stale_factor: 3
  max_retries: 2
http:
  timeout_seconds: 45
  max_attempts: 3
  backoff_initial_ms: 100
  backoff_max_ms: 500
  respect_robots: false
  host_rates:
    - host: www.tagesschau.de
      rate_per_second: 0.5
storage:
  backend: gcs
  bucket: raw-pages
  prefix: pages
database:
  dsn: postgres://tracker@localhost/tracker
pubsub:
  project_id: proj
  topic_name: versions
discovery:
  enabled: true
  schedule: "*/10 * * * *"
  excluded_toplines: ["Sport"]
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if cfg.Scheduler.Concurrency != 6 || cfg.Scheduler.MinInterval != 30*time.Second || cfg.Scheduler.HotFactor != 0.25 {
		t.Fatalf("expected scheduler overrides to apply: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.RetryBase != 30*time.Second {
		t.Fatalf("expected default retry base to survive, got %v", cfg.Scheduler.RetryBase)
	}
	if cfg.HTTP.RespectRobots || cfg.HTTP.HostRateMap()["www.tagesschau.de"] != 0.5 {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if cfg.BackoffInitial() != 100*time.Millisecond || cfg.BackoffMax() != 500*time.Millisecond {
		t.Fatalf("unexpected backoff bounds %v..%v", cfg.BackoffInitial(), cfg.BackoffMax())
	}
	if !cfg.PubSub.Enabled() {
		t.Fatalf("expected pubsub to be enabled")
	}
	if len(cfg.Discovery.ExcludedToplines) != 1 || cfg.Discovery.ExcludedLabels[0] != "Bilder" {
		t.Fatalf("unexpected discovery filters: %+v", cfg.Discovery)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for explicit missing file, got %+v", cfg)
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.DefaultInterval != 15*time.Minute || cfg.Scheduler.MaxInterval != 24*time.Hour {
		t.Fatalf("unexpected default intervals: %+v", cfg.Scheduler)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Database.VersionsTable != "article_versions" {
		t.Fatalf("unexpected storage defaults: %+v %+v", cfg.Storage, cfg.Database)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("TRACKER_SERVER_PORT", "7070")
	t.Setenv("TRACKER_SCHEDULER_MAX_RETRIES", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Scheduler.MaxRetries != 9 {
		t.Fatalf("expected env overrides, got port=%d retries=%d", cfg.Server.Port, cfg.Scheduler.MaxRetries)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Scheduler.Concurrency = 0 }, "scheduler.concurrency"},
		{"inverted bounds", func(c *Config) { c.Scheduler.MaxInterval = time.Second }, "min_interval"},
		{"hot factor", func(c *Config) { c.Scheduler.HotFactor = 1.5 }, "hot_factor"},
		{"stale factor", func(c *Config) { c.Scheduler.StaleFactor = 0.5 }, "stale_factor"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.bucket"},
		{"half pubsub", func(c *Config) { c.PubSub.ProjectID = "p" }, "pubsub"},
		{"bad cron", func(c *Config) {
			c.Discovery.Enabled = true
			c.Discovery.Schedule = "sometimes"
		}, "discovery.schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
