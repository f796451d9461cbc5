// Package config loads and validates tracker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SchedulerConfig tunes the adaptive crawl frequency and the worker pool.
type SchedulerConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	HotFactor       float64       `mapstructure:"hot_factor"`
	StaleFactor     float64       `mapstructure:"stale_factor"`
	RetryBase       time.Duration `mapstructure:"retry_base"`
	RetryMax        time.Duration `mapstructure:"retry_max"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// HTTPConfig configures fetching, retries and politeness.
type HTTPConfig struct {
	TimeoutSeconds   int        `mapstructure:"timeout_seconds"`
	MaxAttempts      int        `mapstructure:"max_attempts"`
	BackoffInitialMs int        `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int        `mapstructure:"backoff_max_ms"`
	UserAgent        string     `mapstructure:"user_agent"`
	RespectRobots    bool       `mapstructure:"respect_robots"`
	MaxBodyBytes     int        `mapstructure:"max_body_bytes"`
	RatePerSecond    float64    `mapstructure:"rate_per_second"`
	Burst            int        `mapstructure:"burst"`
	HostRates        []HostRate `mapstructure:"host_rates"`
}

// HostRate overrides the politeness rate for one host. Hosts are listed
// rather than keyed because viper splits map keys on dots.
type HostRate struct {
	Host          string  `mapstructure:"host"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// HostRateMap indexes the overrides by host.
func (h HTTPConfig) HostRateMap() map[string]float64 {
	out := make(map[string]float64, len(h.HostRates))
	for _, hr := range h.HostRates {
		out[hr.Host] = hr.RatePerSecond
	}
	return out
}

// CrawlConfig bounds one crawl cycle.
type CrawlConfig struct {
	MaxDuration  time.Duration `mapstructure:"max_duration"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	Normalizer   string        `mapstructure:"normalizer"`
}

// StorageConfig selects the raw-page archive.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem archive.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// Storage backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// DatabaseConfig controls access to Postgres. An empty DSN keeps articles
// and versions in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ArticlesTable   string        `mapstructure:"articles_table"`
	VersionsTable   string        `mapstructure:"versions_table"`
}

// PubSubConfig holds metadata for version notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications are configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// DiscoveryConfig controls the overview-page scan.
type DiscoveryConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Schedule         string        `mapstructure:"schedule"`
	OverviewURL      string        `mapstructure:"overview_url"`
	AllowedPrefix    string        `mapstructure:"allowed_prefix"`
	ExcludedToplines []string      `mapstructure:"excluded_toplines"`
	ExcludedLabels   []string      `mapstructure:"excluded_labels"`
	Normalizer       string        `mapstructure:"normalizer"`
	Interval         time.Duration `mapstructure:"interval"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. Without an explicit path the
// usual locations are searched for config.yaml; a missing file is fine.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/article-tracker/")
		v.AddConfigPath("$HOME/.article-tracker")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("scheduler.tick_interval", "1s")
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.default_interval", "15m")
	v.SetDefault("scheduler.min_interval", "1m")
	v.SetDefault("scheduler.max_interval", "24h")
	v.SetDefault("scheduler.hot_factor", 0.5)
	v.SetDefault("scheduler.stale_factor", 2.0)
	v.SetDefault("scheduler.retry_base", "30s")
	v.SetDefault("scheduler.retry_max", "10m")
	v.SetDefault("scheduler.max_retries", 5)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 4)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.user_agent", "article-tracker/0.1 (+https://github.com/JakeFAU/article-tracker)")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("http.rate_per_second", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("crawl.max_duration", "2m")
	v.SetDefault("crawl.store_timeout", "10s")
	v.SetDefault("crawl.normalizer", "generic")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.local.base_dir", "data/raw")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.articles_table", "articles")
	v.SetDefault("database.versions_table", "article_versions")
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.schedule", "@every 15m")
	v.SetDefault("discovery.overview_url", "https://www.tagesschau.de/")
	v.SetDefault("discovery.allowed_prefix", "https://www.tagesschau.de/")
	v.SetDefault("discovery.excluded_toplines", []string{"Spenden", "Wettervorhersage Deutschland", "lotto"})
	v.SetDefault("discovery.excluded_labels", []string{"Bilder"})
	v.SetDefault("discovery.normalizer", "tagesschau")
	v.SetDefault("telemetry.service_name", "article-tracker")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0"))
	}
	if c.Scheduler.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.concurrency must be > 0"))
	}
	if c.Scheduler.MinInterval <= 0 || c.Scheduler.MaxInterval < c.Scheduler.MinInterval {
		errs = append(errs, fmt.Errorf("scheduler intervals must satisfy 0 < min_interval <= max_interval"))
	}
	if c.Scheduler.HotFactor <= 0 || c.Scheduler.HotFactor > 1 {
		errs = append(errs, fmt.Errorf("scheduler.hot_factor must be in (0, 1]"))
	}
	if c.Scheduler.StaleFactor < 1 {
		errs = append(errs, fmt.Errorf("scheduler.stale_factor must be >= 1"))
	}
	if c.Scheduler.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_retries must be > 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout_seconds must be > 0"))
	}
	if c.HTTP.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("http.max_attempts must be > 0"))
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			errs = append(errs, fmt.Errorf("storage.local.base_dir must be set for the local backend"))
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket must be set for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	if c.Discovery.Enabled {
		if _, err := cron.ParseStandard(c.Discovery.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("discovery.schedule: %w", err))
		}
		if c.Discovery.OverviewURL == "" {
			errs = append(errs, fmt.Errorf("discovery.overview_url must be set when discovery is enabled"))
		}
	}
	return errors.Join(errs...)
}

// FetchTimeout is the per-attempt HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay inside one crawl cycle.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays inside one crawl cycle.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
