// Package config handles configuration loading from environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the sync backend.
type Config struct {
	// Database connection string (required)
	DatabaseURL string `mapstructure:"database_url"`

	// Elasticsearch
	ElasticsearchURL   string `mapstructure:"elasticsearch_url"`
	ElasticsearchIndex string `mapstructure:"elasticsearch_index"`
	NGramMin           int    `mapstructure:"ngram_min"`
	NGramMax           int    `mapstructure:"ngram_max"`

	// Change listener
	ListenChannel  string `mapstructure:"listen_channel"`
	ListenerBuffer int    `mapstructure:"listener_buffer"`

	// Worker pools
	WorkerConcurrency  int           `mapstructure:"worker_concurrency"`
	WorkerPollInterval time.Duration `mapstructure:"worker_poll_interval"`
	WorkerMaxBackoff   time.Duration `mapstructure:"worker_max_backoff"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`

	// Queue policy
	ClaimTimeout     time.Duration `mapstructure:"claim_timeout"`
	JobMaxRetries    int           `mapstructure:"job_max_retries"`
	JobRetryDelay    time.Duration `mapstructure:"job_retry_delay"`
	ArchiveRetention time.Duration `mapstructure:"archive_retention"`

	// Reconciliation
	ReconcilePageSize int     `mapstructure:"reconcile_page_size"`
	ReconcileRate     float64 `mapstructure:"reconcile_rate"`

	// Email; empty SESFrom means notifications are logged, not sent
	SESRegion string `mapstructure:"ses_region"`
	SESFrom   string `mapstructure:"ses_from"`

	// Observability
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`
}

// Load reads configuration from the environment and, if path is non-empty or
// grailsync.yaml exists in the working directory, from a YAML file.
// Environment variables win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	// keys without a meaningful default still need registering so that
	// AutomaticEnv picks them up during Unmarshal
	v.SetDefault("database_url", "")
	v.SetDefault("ses_from", "")
	v.SetDefault("elasticsearch_url", "http://localhost:9200")
	v.SetDefault("elasticsearch_index", "names")
	v.SetDefault("ngram_min", 2)
	v.SetDefault("ngram_max", 10)
	v.SetDefault("listen_channel", "entity_changes")
	v.SetDefault("listener_buffer", 256)
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("heartbeat_interval", time.Minute)
	v.SetDefault("claim_timeout", 5*time.Minute)
	v.SetDefault("job_max_retries", 5)
	v.SetDefault("job_retry_delay", 10*time.Second)
	v.SetDefault("archive_retention", 72*time.Hour)
	v.SetDefault("reconcile_page_size", 500)
	v.SetDefault("reconcile_rate", 200.0)
	v.SetDefault("ses_region", "us-east-1")
	v.SetDefault("metrics_port", 9091)
	v.SetDefault("otel_endpoint", "localhost:4317")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("grailsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// a missing default file is fine, anything else is not
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	if cfg.NGramMin < 1 || cfg.NGramMax < cfg.NGramMin {
		return nil, fmt.Errorf("invalid ngram range %d-%d", cfg.NGramMin, cfg.NGramMax)
	}

	return &cfg, nil
}
