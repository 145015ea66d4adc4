package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultServerStaleness      = 240 * time.Second
	DefaultAlertProcessInterval = 60 * time.Second
	DefaultCycleTimeout         = 30 * time.Second
	DefaultBackend              = "redis"
	DefaultRedisURL             = "redis://localhost:6379/0"
	DefaultKeyPrefix            = "healthapp"
	DefaultListen               = ":8000"
)

// EnvConfigFile overrides the config search path.
const EnvConfigFile = "CONFIG_FILE"

// SearchPaths returns the locations Find tries, in order.
func SearchPaths() []string {
	paths := make([]string, 0, 4)
	if p := os.Getenv(EnvConfigFile); p != "" {
		paths = append(paths, p)
	}
	return append(paths,
		"/etc/healthapp/config.yaml",
		"/usr/local/healthapp/config.yaml",
		"config.yaml",
	)
}

// ErrNoConfig is returned by Find when no candidate file exists.
var ErrNoConfig = errors.New("no config file found")

// Find returns the first existing file from SearchPaths.
func Find() (string, error) {
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNoConfig, strings.Join(SearchPaths(), ", "))
}

// Load reads, defaults and validates the config at path. JSON files are
// accepted too, since JSON parses as YAML.
func Load(path string) (*Config, error) {
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("loading %s: unknown filetype %q", path, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ServerStaleness == 0 {
		cfg.ServerStaleness = Duration(DefaultServerStaleness)
	}
	if cfg.AlertProcessInterval == 0 {
		cfg.AlertProcessInterval = Duration(DefaultAlertProcessInterval)
	}
	// -1 was the historical spelling of "disabled"
	if cfg.AlertSendEmailInterval < 0 {
		cfg.AlertSendEmailInterval = 0
	}
	if cfg.CycleTimeout == 0 {
		cfg.CycleTimeout = Duration(DefaultCycleTimeout)
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultBackend
	}
	if cfg.Storage.Backend == "redis" && cfg.Storage.RedisURL == "" {
		cfg.Storage.RedisURL = DefaultRedisURL
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = DefaultListen
	}
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	if cfg.ServerStaleness <= 0 {
		return fmt.Errorf("server_staleness_duration must be positive")
	}
	if cfg.AlertProcessInterval <= 0 {
		return fmt.Errorf("alert_process_interval must be positive")
	}
	if cfg.CycleTimeout <= 0 {
		return fmt.Errorf("cycle_timeout must be positive")
	}

	switch cfg.Storage.Backend {
	case "redis", "memory":
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage: postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage: backend must be 'redis', 'postgres' or 'memory', got %q", cfg.Storage.Backend)
	}

	n := cfg.Notify
	if n.EnableEmails {
		if n.EmailServer == "" {
			return fmt.Errorf("notify: email_server is required when enable_emails is set")
		}
		if n.EmailSender == "" {
			return fmt.Errorf("notify: email_sender is required when enable_emails is set")
		}
		if len(n.EmailRecipients) == 0 {
			return fmt.Errorf("notify: email_recipients is required when enable_emails is set")
		}
	}

	seen := make(map[string]bool, len(n.Apprise.Channels))
	for i, ch := range n.Apprise.Channels {
		if ch.Name == "" {
			return fmt.Errorf("notify: apprise channel %d: name is required", i)
		}
		if ch.URLEnv == "" {
			return fmt.Errorf("notify: apprise channel %s: url_env is required", ch.Name)
		}
		if seen[ch.Name] {
			return fmt.Errorf("notify: apprise channel %s: duplicate name", ch.Name)
		}
		seen[ch.Name] = true
		// env vars are resolved at startup, not here
	}

	return nil
}
