// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetcher backends.
const (
	FetcherHeadless = "headless"
	FetcherHTTP     = "http"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Storage StorageConfig `mapstructure:"storage"`
	Blobs   BlobConfig    `mapstructure:"blobs"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetcherConfig selects and tunes the page fetch backend.
type FetcherConfig struct {
	Backend           string  `mapstructure:"backend"`
	UserAgent         string  `mapstructure:"user_agent"`
	NavTimeoutSec     int     `mapstructure:"nav_timeout_seconds"`
	SettleMs          int     `mapstructure:"settle_ms"`
	WindowWidth       int     `mapstructure:"window_width"`
	WindowHeight      int     `mapstructure:"window_height"`
	ChromePath        string  `mapstructure:"chrome_path"`
	NotFoundBodyBytes int     `mapstructure:"not_found_body_bytes"`
	PerHostRPS        float64 `mapstructure:"per_host_rps"`
	PerHostBurst      int     `mapstructure:"per_host_burst"`
}

// QueueConfig governs the job queue and worker pool.
type QueueConfig struct {
	Depth   int `mapstructure:"depth"`
	Workers int `mapstructure:"workers"`
}

// StorageConfig selects where jobs and result records are kept.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	JobsTable    string `mapstructure:"jobs_table"`
	ResultsTable string `mapstructure:"results_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
}

// BlobConfig controls archiving of page bodies.
type BlobConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("fetcher.backend", FetcherHeadless)
	v.SetDefault("fetcher.user_agent", "webpage-search/0.1")
	v.SetDefault("fetcher.nav_timeout_seconds", 30)
	v.SetDefault("fetcher.settle_ms", 500)
	v.SetDefault("fetcher.window_width", 1920)
	v.SetDefault("fetcher.window_height", 1080)
	v.SetDefault("fetcher.chrome_path", "")
	v.SetDefault("fetcher.not_found_body_bytes", 4096)
	v.SetDefault("fetcher.per_host_rps", 0)
	v.SetDefault("fetcher.per_host_burst", 1)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.workers", 1)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.jobs_table", "search_jobs")
	v.SetDefault("storage.results_table", "search_results")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("blobs.backend", "none")
	v.SetDefault("blobs.base_dir", "data/pages")
	v.SetDefault("blobs.gcs_bucket", "")
	v.SetDefault("blobs.prefix", "pages")
	v.SetDefault("blobs.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Fetcher.Backend {
	case FetcherHeadless, FetcherHTTP:
	default:
		return fmt.Errorf("fetcher.backend must be %q or %q, got %q", FetcherHeadless, FetcherHTTP, c.Fetcher.Backend)
	}
	if c.Fetcher.NavTimeoutSec <= 0 {
		return fmt.Errorf("fetcher.nav_timeout_seconds must be > 0")
	}
	if c.Fetcher.SettleMs < 0 {
		return fmt.Errorf("fetcher.settle_ms must be >= 0")
	}
	if c.Fetcher.PerHostRPS < 0 {
		return fmt.Errorf("fetcher.per_host_rps must be >= 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Blobs.Backend {
	case "none", "local":
	case "gcs":
		if c.Blobs.GCSBucket == "" {
			return fmt.Errorf("blobs.gcs_bucket must be set when blobs.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown blobs.backend %q", c.Blobs.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// NavTimeout converts the navigation timeout to a duration.
func (c FetcherConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// SettleDelay converts the post-load settle delay to a duration.
func (c FetcherConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}
