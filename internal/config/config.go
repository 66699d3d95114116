// Package config loads and validates strategy worker configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/frontier-strategy/internal/updates"
)

// Backend names accepted by the worker.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendPubSub   = "pubsub"
	BackendJSONL    = "jsonl"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Updates     UpdatesConfig     `mapstructure:"updates"`
	SpiderLog   SpiderLogConfig   `mapstructure:"spiderlog"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	DB          DBConfig          `mapstructure:"db"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey guards the /v1 routes when set.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StrategyConfig selects the registered strategy and its settings.
type StrategyConfig struct {
	Name     string         `mapstructure:"name"`
	Settings map[string]any `mapstructure:"settings"`
}

// WorkerConfig governs the host loop and its state store.
type WorkerConfig struct {
	EnforceTransitions bool   `mapstructure:"enforce_transitions"`
	StateStore         string `mapstructure:"state_store"`
	StateTable         string `mapstructure:"state_table"`
}

// UpdatesConfig configures the outbound score update stream.
type UpdatesConfig struct {
	Transport        string  `mapstructure:"transport"`
	Producer         string  `mapstructure:"producer"`
	Table            string  `mapstructure:"table"`
	RateLimit        float64 `mapstructure:"rate_limit"`
	Burst            int     `mapstructure:"burst"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
}

// SpiderLogConfig configures where crawl events come from.
type SpiderLogConfig struct {
	Source    string `mapstructure:"source"`
	Path      string `mapstructure:"path"`
	BatchSize int    `mapstructure:"batch_size"`
	MaxWaitMs int    `mapstructure:"max_wait_ms"`
	Capacity  int    `mapstructure:"capacity"`
	// Seeds are injected as one add_seeds event when the memory source is used.
	Seeds []string `mapstructure:"seeds"`
}

// PubSubConfig holds the Pub/Sub topic and subscription names.
type PubSubConfig struct {
	ProjectID             string `mapstructure:"project_id"`
	UpdatesTopic          string `mapstructure:"updates_topic"`
	SpiderLogSubscription string `mapstructure:"spiderlog_subscription"`
	MaxOutstanding        int    `mapstructure:"max_outstanding"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// FingerprintConfig selects how missing fingerprints are derived.
type FingerprintConfig struct {
	Algorithm string `mapstructure:"algorithm"`
	Normalize bool   `mapstructure:"normalize"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STRATEGY")
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
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
	v.SetDefault("strategy.name", "basic")
	v.SetDefault("worker.enforce_transitions", true)
	v.SetDefault("worker.state_store", BackendMemory)
	v.SetDefault("worker.state_table", "request_states")
	v.SetDefault("updates.transport", BackendMemory)
	v.SetDefault("updates.producer", "partition-0")
	v.SetDefault("updates.table", "score_updates")
	v.SetDefault("updates.rate_limit", 0)
	v.SetDefault("updates.burst", 100)
	v.SetDefault("updates.max_attempts", 5)
	v.SetDefault("updates.backoff_initial_ms", 100)
	v.SetDefault("updates.backoff_max_ms", 5000)
	v.SetDefault("spiderlog.source", BackendMemory)
	v.SetDefault("spiderlog.batch_size", 128)
	v.SetDefault("spiderlog.max_wait_ms", 1000)
	v.SetDefault("spiderlog.capacity", 1024)
	v.SetDefault("pubsub.max_outstanding", 1000)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("fingerprint.algorithm", "sha1")
	v.SetDefault("fingerprint.normalize", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if !slices.Contains([]string{BackendMemory, BackendPostgres}, c.Worker.StateStore) {
		return fmt.Errorf("worker.state_store must be memory or postgres, got %q", c.Worker.StateStore)
	}
	if !slices.Contains([]string{BackendMemory, BackendPostgres, BackendPubSub}, c.Updates.Transport) {
		return fmt.Errorf("updates.transport must be memory, postgres or pubsub, got %q", c.Updates.Transport)
	}
	if c.Updates.Producer == "" {
		return fmt.Errorf("updates.producer is required")
	}
	if c.Updates.RateLimit < 0 {
		return fmt.Errorf("updates.rate_limit must be >= 0")
	}
	if c.Updates.MaxAttempts <= 0 {
		return fmt.Errorf("updates.max_attempts must be > 0")
	}
	if !slices.Contains([]string{BackendMemory, BackendJSONL, BackendPubSub}, c.SpiderLog.Source) {
		return fmt.Errorf("spiderlog.source must be memory, jsonl or pubsub, got %q", c.SpiderLog.Source)
	}
	if c.SpiderLog.BatchSize <= 0 {
		return fmt.Errorf("spiderlog.batch_size must be > 0")
	}
	if c.SpiderLog.Source == BackendJSONL && c.SpiderLog.Path == "" {
		return fmt.Errorf("spiderlog.path must be set for the jsonl source")
	}
	if (c.Worker.StateStore == BackendPostgres || c.Updates.Transport == BackendPostgres) && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when postgres is used")
	}
	if c.Updates.Transport == BackendPubSub && (c.PubSub.ProjectID == "" || c.PubSub.UpdatesTopic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.updates_topic must be set for the pubsub transport")
	}
	if c.SpiderLog.Source == BackendPubSub && (c.PubSub.ProjectID == "" || c.PubSub.SpiderLogSubscription == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.spiderlog_subscription must be set for the pubsub source")
	}
	if !slices.Contains([]string{"sha1", "xxh3"}, strings.ToLower(c.Fingerprint.Algorithm)) {
		return fmt.Errorf("fingerprint.algorithm must be sha1 or xxh3, got %q", c.Fingerprint.Algorithm)
	}
	return nil
}

// RetryPolicy converts the updates backoff settings.
func (c Config) RetryPolicy() updates.RetryPolicy {
	return updates.RetryPolicy{
		MaxAttempts: c.Updates.MaxAttempts,
		BaseDelay:   time.Duration(c.Updates.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.Updates.BackoffMaxMs) * time.Millisecond,
	}
}

// SpiderLogMaxWait is the longest a started batch waits to fill up.
func (c Config) SpiderLogMaxWait() time.Duration {
	return time.Duration(c.SpiderLog.MaxWaitMs) * time.Millisecond
}

// ConnMaxLifetime converts db.max_conn_lifetime_seconds.
func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeSeconds) * time.Second
}
