// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
}

// ServerConfig controls the HTTP status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`
	MaxRetries         int `mapstructure:"max_retries"`
	BackoffInitialMs   int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int `mapstructure:"backoff_max_ms"`
	RateLimitDelaySec  int `mapstructure:"rate_limit_delay_seconds"`
	RateLimitJitterSec int `mapstructure:"rate_limit_jitter_seconds"`
	MaxResponseMB      int `mapstructure:"max_response_mb"`
}

// ProxyConfig points at the SOCKS proxy used for anonymized-network sources.
// Empty disables those sources entirely; they are never fetched directly.
type ProxyConfig struct {
	SOCKSAddr string `mapstructure:"socks_addr"`
}

// StorageConfig sets the filesystem root for evidence and run state.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// DBConfig selects and configures the persistence backend.
type DBConfig struct {
	// Backend is "memory" or "postgres".
	Backend         string `mapstructure:"backend"`
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifeMins int    `mapstructure:"max_conn_lifetime_minutes"`
}

// DedupConfig selects the fingerprint cache backend.
type DedupConfig struct {
	// Backend is "file" or "redis".
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// SchedulerConfig governs the poll loop and pipeline parallelism.
type SchedulerConfig struct {
	PollSeconds int `mapstructure:"poll_seconds"`
	Concurrency int `mapstructure:"concurrency"`
}

// FeedConfig is the per-feed enablement and cadence block.
type FeedConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// OTXFeedConfig extends FeedConfig with AlienVault specifics.
type OTXFeedConfig struct {
	FeedConfig `mapstructure:",squash"`
	APIKey     string `mapstructure:"api_key"`
	Limit      int    `mapstructure:"limit"`
	// IncrementalEnabled exists so the guardrail has something to refuse.
	// The subscribed-pulses endpoint 404s on modified_since queries for
	// most key tiers, so Validate rejects true.
	IncrementalEnabled bool `mapstructure:"incremental_enabled"`
}

// LeakSiteFeedConfig extends FeedConfig with the monitored onion sources.
type LeakSiteFeedConfig struct {
	FeedConfig `mapstructure:",squash"`
	// Sources maps group identifiers to leak-site URLs.
	Sources map[string]string `mapstructure:"sources"`
}

// FeedsConfig holds one block per supported feed.
type FeedsConfig struct {
	KEV            FeedConfig         `mapstructure:"cisa_kev"`
	OTX            OTXFeedConfig      `mapstructure:"alienvault_otx"`
	Malpedia       FeedConfig         `mapstructure:"malpedia"`
	RansomwareLive FeedConfig         `mapstructure:"ransomware_live"`
	DarkwebMonitor LeakSiteFeedConfig `mapstructure:"darkweb_monitor"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CTI")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.rate_limit_delay_seconds", 2)
	v.SetDefault("http.rate_limit_jitter_seconds", 1)
	v.SetDefault("http.max_response_mb", 10)
	// Secret-bearing keys get explicit empty defaults so AutomaticEnv can
	// bind them even when no config file mentions them.
	v.SetDefault("proxy.socks_addr", "")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.dsn", "")
	v.SetDefault("dedup.backend", "file")
	v.SetDefault("dedup.redis_addr", "")
	v.SetDefault("dedup.redis_key", "ctiharvest:fingerprints")
	v.SetDefault("scheduler.poll_seconds", 10)
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("feeds.cisa_kev.enabled", true)
	v.SetDefault("feeds.cisa_kev.interval_minutes", 720)
	v.SetDefault("feeds.alienvault_otx.enabled", true)
	v.SetDefault("feeds.alienvault_otx.interval_minutes", 60)
	v.SetDefault("feeds.alienvault_otx.api_key", "")
	v.SetDefault("feeds.alienvault_otx.limit", 50)
	v.SetDefault("feeds.alienvault_otx.incremental_enabled", false)
	v.SetDefault("feeds.malpedia.enabled", true)
	v.SetDefault("feeds.malpedia.interval_minutes", 1440)
	v.SetDefault("feeds.ransomware_live.enabled", true)
	v.SetDefault("feeds.ransomware_live.interval_minutes", 120)
	v.SetDefault("feeds.darkweb_monitor.enabled", false)
	v.SetDefault("feeds.darkweb_monitor.interval_minutes", 240)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxResponseMB <= 0 {
		return fmt.Errorf("http.max_response_mb must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	switch c.DB.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.backend is postgres")
		}
	default:
		return fmt.Errorf("db.backend must be memory or postgres, got %q", c.DB.Backend)
	}
	switch c.Dedup.Backend {
	case "file":
	case "redis":
		if c.Dedup.RedisAddr == "" {
			return fmt.Errorf("dedup.redis_addr must be set when dedup.backend is redis")
		}
	default:
		return fmt.Errorf("dedup.backend must be file or redis, got %q", c.Dedup.Backend)
	}
	if c.Feeds.OTX.IncrementalEnabled {
		return fmt.Errorf("feeds.alienvault_otx.incremental_enabled must stay false: " +
			"the subscribed-pulses endpoint rejects modified_since queries")
	}
	if c.Feeds.DarkwebMonitor.Enabled {
		if c.Proxy.SOCKSAddr == "" {
			return fmt.Errorf("proxy.socks_addr must be set when darkweb_monitor is enabled")
		}
		if len(c.Feeds.DarkwebMonitor.Sources) == 0 {
			return fmt.Errorf("feeds.darkweb_monitor.sources must not be empty when enabled")
		}
	}
	return nil
}

// HTTPTimeout returns the fetch client timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Interval converts a per-feed cadence into a duration, defaulting to an
// hour when unset.
func (f FeedConfig) Interval() time.Duration {
	if f.IntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(f.IntervalMinutes) * time.Minute
}
