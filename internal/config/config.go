// Package config loads and validates frontier configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Filter record store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Blob storage backends for the worker's raw-data sink.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Graph     GraphConfig     `mapstructure:"graph"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Seed      SeedConfig      `mapstructure:"seed"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                     int   `mapstructure:"port"`
	ReadHeaderTimeoutSeconds int   `mapstructure:"read_header_timeout_seconds"`
	RequestTimeoutSeconds    int   `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds   int   `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes             int64 `mapstructure:"max_body_bytes"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FrontierConfig governs admission, queueing and recrawl behavior.
type FrontierConfig struct {
	RecrawlEnabled  bool          `mapstructure:"recrawl_enabled"`
	RecrawlInterval time.Duration `mapstructure:"recrawl_interval"`
	AllowedSchemes  []string      `mapstructure:"allowed_schemes"`
	ResolveTimeout  time.Duration `mapstructure:"resolve_timeout"`
	MaxBatchSize    int           `mapstructure:"max_batch_size"`
	// HostTimeout > 0 enables the stale-host sweep.
	HostTimeout   time.Duration `mapstructure:"host_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Politeness=false swaps in the plain queue, which ignores host addresses.
	Politeness bool `mapstructure:"politeness"`
	// DomainVariants also admits the registrable-domain root of discovered URIs.
	DomainVariants bool `mapstructure:"domain_variants"`
}

// FilterConfig selects the known-URI record store and its bloom fast path.
type FilterConfig struct {
	Backend       string  `mapstructure:"backend"`
	BloomCapacity uint    `mapstructure:"bloom_capacity"`
	BloomFPRate   float64 `mapstructure:"bloom_fp_rate"`
}

// DatabaseConfig controls access to the Postgres record store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig locates the embedded record store.
type SQLiteConfig struct {
	Dir string `mapstructure:"dir"`
}

// RedisConfig configures the Redis record store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// GraphConfig controls the crawl-graph hub and its sinks.
type GraphConfig struct {
	Enabled        bool         `mapstructure:"enabled"`
	LogEnabled     bool         `mapstructure:"log_enabled"`
	TSVPath        string       `mapstructure:"tsv_path"`
	Metrics        bool         `mapstructure:"metrics"`
	BufferSize     int          `mapstructure:"buffer_size"`
	BatchMaxEvents int          `mapstructure:"batch_max_events"`
	BatchMaxWaitMs int          `mapstructure:"batch_max_wait_ms"`
	PubSub         PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig wires the Pub/Sub graph sink. An empty project disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RateLimitConfig bounds how often one worker may poll the API.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// SeedConfig names the seed source loaded at startup.
type SeedConfig struct {
	File string `mapstructure:"file"`
}

// WorkerConfig configures the reference worker.
type WorkerConfig struct {
	FrontierURL    string        `mapstructure:"frontier_url"`
	ID             string        `mapstructure:"id"`
	UserAgent      string        `mapstructure:"user_agent"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Concurrency    int           `mapstructure:"concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	HostRPS        float64       `mapstructure:"host_rps"`
	Topic          string        `mapstructure:"topic"`
	ProjectID      string        `mapstructure:"project_id"`
}

// StorageConfig selects where the worker writes raw responses.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles development logging and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRONTIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.max_body_bytes", 8<<20)
	v.SetDefault("frontier.recrawl_enabled", false)
	v.SetDefault("frontier.recrawl_interval", "168h")
	v.SetDefault("frontier.allowed_schemes", []string{"http", "https"})
	v.SetDefault("frontier.resolve_timeout", "5s")
	v.SetDefault("frontier.max_batch_size", 0)
	v.SetDefault("frontier.host_timeout", "0s")
	v.SetDefault("frontier.sweep_interval", "30s")
	v.SetDefault("frontier.politeness", true)
	v.SetDefault("frontier.domain_variants", false)
	v.SetDefault("filter.backend", BackendMemory)
	v.SetDefault("filter.bloom_capacity", 1_000_000)
	v.SetDefault("filter.bloom_fp_rate", 0.001)
	v.SetDefault("database.table", "known_uris")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("sqlite.dir", "data/frontier")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "frontier:known:")
	v.SetDefault("graph.enabled", true)
	v.SetDefault("graph.log_enabled", true)
	v.SetDefault("graph.metrics", true)
	v.SetDefault("graph.buffer_size", 4096)
	v.SetDefault("graph.batch_max_events", 1000)
	v.SetDefault("graph.batch_max_wait_ms", 500)
	v.SetDefault("graph.pubsub.topic", "crawl-graph")
	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("worker.frontier_url", "http://localhost:8080")
	v.SetDefault("worker.user_agent", "ld-frontier-worker/0.1")
	v.SetDefault("worker.timeout_seconds", 15)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_retries", 2)
	v.SetDefault("worker.respect_robots", true)
	v.SetDefault("worker.max_body_bytes", 10<<20)
	v.SetDefault("worker.host_rps", 1)
	v.SetDefault("worker.topic", "crawl-results")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.base_dir", "data/raw")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "ld-frontier")
	v.SetDefault("telemetry.sample_ratio", 0.1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("%w: server.port must be > 0", ErrInvalid)
	}
	if c.Frontier.RecrawlEnabled && c.Frontier.RecrawlInterval <= 0 {
		return fmt.Errorf("%w: frontier.recrawl_interval must be > 0 when recrawling is enabled", ErrInvalid)
	}
	if c.Frontier.HostTimeout < 0 {
		return fmt.Errorf("%w: frontier.host_timeout must be >= 0", ErrInvalid)
	}
	switch c.Filter.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn must be set for the postgres backend", ErrInvalid)
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr must be set for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown filter.backend %q", ErrInvalid, c.Filter.Backend)
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageLocal:
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%w: storage.bucket must be set for the gcs backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalid, c.Storage.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("%w: auth.api_key must be set when auth is enabled", ErrInvalid)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("%w: worker.concurrency must be > 0", ErrInvalid)
	}
	return nil
}

// ReadHeaderTimeout returns the server's header read deadline.
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request handler deadline.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// BatchMaxWait converts the graph batch wait into a duration.
func (c GraphConfig) BatchMaxWait() time.Duration {
	return time.Duration(c.BatchMaxWaitMs) * time.Millisecond
}

// Timeout converts the worker fetch timeout into a duration.
func (c WorkerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
