package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Frontier.RecrawlEnabled {
		t.Fatal("expected recrawling disabled by default")
	}
	if cfg.Frontier.RecrawlInterval != 7*24*time.Hour {
		t.Fatalf("expected one-week recrawl interval, got %v", cfg.Frontier.RecrawlInterval)
	}
	if !slices.Equal(cfg.Frontier.AllowedSchemes, []string{"http", "https"}) {
		t.Fatalf("unexpected default schemes %v", cfg.Frontier.AllowedSchemes)
	}
	if !cfg.Frontier.Politeness || cfg.Frontier.HostTimeout != 0 {
		t.Fatalf("expected polite queue without stale sweep: %+v", cfg.Frontier)
	}
	if cfg.Filter.Backend != BackendMemory || cfg.Storage.Backend != StorageMemory {
		t.Fatalf("expected in-memory backends, got %q/%q", cfg.Filter.Backend, cfg.Storage.Backend)
	}
	if got := cfg.Graph.BatchMaxWait(); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms batch wait, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 5
auth:
  enabled: true
  api_key: secret
frontier:
  recrawl_enabled: true
  recrawl_interval: 48h
  allowed_schemes: [http]
  host_timeout: 10m
  politeness: false
  domain_variants: true
filter:
  backend: postgres
  bloom_capacity: 0
database:
  dsn: postgres://localhost/frontier
  table: seen
graph:
  tsv_path: /tmp/graph.tsv
  batch_max_wait_ms: 250
  pubsub:
    project_id: demo
worker:
  concurrency: 8
  timeout_seconds: 45
  respect_robots: false
storage:
  backend: gcs
  bucket: raw-bucket
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.RequestTimeout() != 5*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if !cfg.Frontier.RecrawlEnabled || cfg.Frontier.RecrawlInterval != 48*time.Hour {
		t.Fatalf("expected recrawl overrides, got %+v", cfg.Frontier)
	}
	if cfg.Frontier.HostTimeout != 10*time.Minute || cfg.Frontier.Politeness || !cfg.Frontier.DomainVariants {
		t.Fatalf("expected queue overrides, got %+v", cfg.Frontier)
	}
	if !slices.Equal(cfg.Frontier.AllowedSchemes, []string{"http"}) {
		t.Fatalf("expected only http, got %v", cfg.Frontier.AllowedSchemes)
	}
	if cfg.Filter.Backend != BackendPostgres || cfg.Filter.BloomCapacity != 0 {
		t.Fatalf("expected postgres filter without bloom, got %+v", cfg.Filter)
	}
	if cfg.Database.Table != "seen" || cfg.Database.MaxConns != 8 {
		t.Fatalf("expected table override and default pool size, got %+v", cfg.Database)
	}
	if cfg.Graph.PubSub.ProjectID != "demo" || cfg.Graph.PubSub.Topic != "crawl-graph" {
		t.Fatalf("expected pubsub sink settings, got %+v", cfg.Graph.PubSub)
	}
	if cfg.Graph.BatchMaxWait() != 250*time.Millisecond {
		t.Fatalf("expected 250ms batch wait, got %v", cfg.Graph.BatchMaxWait())
	}
	if cfg.Worker.Concurrency != 8 || cfg.Worker.RespectRobots || cfg.Worker.Timeout() != 45*time.Second {
		t.Fatalf("expected worker overrides, got %+v", cfg.Worker)
	}
	if cfg.Storage.Backend != StorageGCS || cfg.Storage.Bucket != "raw-bucket" {
		t.Fatalf("expected gcs storage, got %+v", cfg.Storage)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FRONTIER_SERVER_PORT", "7070")
	t.Setenv("FRONTIER_FILTER_BACKEND", "sqlite")
	t.Setenv("FRONTIER_SQLITE_DIR", "/var/lib/frontier")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected port 7070 from env, got %d", cfg.Server.Port)
	}
	if cfg.Filter.Backend != BackendSQLite || cfg.SQLite.Dir != "/var/lib/frontier" {
		t.Fatalf("expected sqlite backend from env, got %+v / %+v", cfg.Filter, cfg.SQLite)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Filter:  FilterConfig{Backend: BackendMemory},
		Storage: StorageConfig{Backend: StorageMemory},
		Worker:  WorkerConfig{Concurrency: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{name: "invalid port", mod: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{
			name: "recrawl without interval",
			mod: func(c *Config) {
				c.Frontier.RecrawlEnabled = true
				c.Frontier.RecrawlInterval = 0
			},
			want: "frontier.recrawl_interval",
		},
		{name: "negative host timeout", mod: func(c *Config) { c.Frontier.HostTimeout = -time.Second }, want: "frontier.host_timeout"},
		{name: "unknown backend", mod: func(c *Config) { c.Filter.Backend = "cassandra" }, want: "filter.backend"},
		{name: "postgres without dsn", mod: func(c *Config) { c.Filter.Backend = BackendPostgres }, want: "database.dsn"},
		{name: "redis without addr", mod: func(c *Config) { c.Filter.Backend = BackendRedis }, want: "redis.addr"},
		{name: "unknown storage", mod: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "gcs without bucket", mod: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.bucket"},
		{name: "auth missing api key", mod: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "invalid worker concurrency", mod: func(c *Config) { c.Worker.Concurrency = 0 }, want: "worker.concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mod(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
