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
  development: false
http:
  timeout_seconds: 45
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
  max_response_mb: 5
proxy:
  socks_addr: 127.0.0.1:9050
storage:
  data_dir: /tmp/cti-test
scheduler:
  poll_seconds: 5
  concurrency: 2
feeds:
  cisa_kev:
    enabled: true
    interval_minutes: 60
  alienvault_otx:
    enabled: true
    api_key: secret
    limit: 25
  darkweb_monitor:
    enabled: true
    interval_minutes: 30
    sources:
      lockbit: http://example.onion/leaks
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
	if cfg.Logging.Development {
		t.Fatal("expected logging.development override to apply")
	}
	if cfg.HTTP.MaxResponseMB != 5 {
		t.Fatalf("expected max_response_mb 5, got %d", cfg.HTTP.MaxResponseMB)
	}
	if cfg.Feeds.OTX.APIKey != "secret" || cfg.Feeds.OTX.Limit != 25 {
		t.Fatalf("expected otx overrides to apply: %+v", cfg.Feeds.OTX)
	}
	if got := cfg.Feeds.KEV.Interval(); got != time.Hour {
		t.Fatalf("expected kev interval 1h, got %v", got)
	}
	if got := cfg.Feeds.DarkwebMonitor.Sources["lockbit"]; got != "http://example.onion/leaks" {
		t.Fatalf("expected leak site source to load, got %q", got)
	}
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Fatalf("expected http timeout 45s, got %v", got)
	}
	// Untouched sections keep their defaults.
	if cfg.DB.Backend != "memory" || cfg.Dedup.Backend != "file" {
		t.Fatalf("expected default backends, got db=%q dedup=%q", cfg.DB.Backend, cfg.Dedup.Backend)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		HTTP:      HTTPConfig{TimeoutSeconds: 10, MaxResponseMB: 10},
		DB:        DBConfig{Backend: "memory"},
		Dedup:     DedupConfig{Backend: "file"},
		Scheduler: SchedulerConfig{PollSeconds: 10, Concurrency: 1},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "invalid response cap",
			cfg: func() Config {
				c := base
				c.HTTP.MaxResponseMB = 0
				return c
			}(),
			want: "http.max_response_mb",
		},
		{
			name: "postgres without dsn",
			cfg: func() Config {
				c := base
				c.DB.Backend = "postgres"
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "unknown dedup backend",
			cfg: func() Config {
				c := base
				c.Dedup.Backend = "bloom"
				return c
			}(),
			want: "dedup.backend",
		},
		{
			name: "otx incremental guardrail",
			cfg: func() Config {
				c := base
				c.Feeds.OTX.IncrementalEnabled = true
				return c
			}(),
			want: "incremental_enabled",
		},
		{
			name: "darkweb without proxy",
			cfg: func() Config {
				c := base
				c.Feeds.DarkwebMonitor.Enabled = true
				c.Feeds.DarkwebMonitor.Sources = map[string]string{"g": "http://x.onion"}
				return c
			}(),
			want: "proxy.socks_addr",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

// The incremental guardrail must hold even when the flag arrives from a file.
func TestLoadRejectsOTXIncremental(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
feeds:
  alienvault_otx:
    incremental_enabled: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "incremental_enabled") {
		t.Fatalf("expected incremental guardrail error, got %v", err)
	}
}

// Secrets often arrive only through the environment, with no config file at
// all; the keys must still bind.
func TestLoadBindsSecretsFromEnvWithoutFile(t *testing.T) {
	t.Setenv("CTI_FEEDS_ALIENVAULT_OTX_API_KEY", "env-otx-key")
	t.Setenv("CTI_PROXY_SOCKS_ADDR", "127.0.0.1:9050")
	t.Setenv("CTI_DB_DSN", "postgres://cti@localhost/cti")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Feeds.OTX.APIKey != "env-otx-key" {
		t.Fatalf("expected otx api key from env, got %q", cfg.Feeds.OTX.APIKey)
	}
	if cfg.Proxy.SOCKSAddr != "127.0.0.1:9050" {
		t.Fatalf("expected socks addr from env, got %q", cfg.Proxy.SOCKSAddr)
	}
	if cfg.DB.DSN != "postgres://cti@localhost/cti" {
		t.Fatalf("expected db dsn from env, got %q", cfg.DB.DSN)
	}
}
