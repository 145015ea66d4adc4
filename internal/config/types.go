package config

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete alert processor configuration
type Config struct {
	ServerStaleness        Duration `yaml:"server_staleness_duration"`
	AlertProcessInterval   Duration `yaml:"alert_process_interval"`
	AlertSendEmailInterval Duration `yaml:"alert_send_email_interval"`
	CycleTimeout           Duration `yaml:"cycle_timeout"`

	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// StorageConfig selects and addresses the backend
type StorageConfig struct {
	Backend     string `yaml:"backend"` // "redis", "postgres" or "memory"
	RedisURL    string `yaml:"redis_url,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
	KeyPrefix   string `yaml:"key_prefix,omitempty"`
}

// APIConfig configures the read-only HTTP API
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// NotifyConfig defines notification channels
type NotifyConfig struct {
	EnableEmails    bool     `yaml:"enable_emails"`
	EmailServer     string   `yaml:"email_server,omitempty"`
	EmailSender     string   `yaml:"email_sender,omitempty"`
	EmailRecipients []string `yaml:"email_recipients,omitempty"`

	Apprise AppriseConfig `yaml:"apprise,omitempty"`
	NATS    NATSConfig    `yaml:"nats,omitempty"`
	Log     bool          `yaml:"log"`
}

// AppriseConfig points at an Apprise API server and the services it relays to
type AppriseConfig struct {
	APIURL   string                 `yaml:"api_url,omitempty"`
	Channels []AppriseChannelConfig `yaml:"channels,omitempty"`
}

// AppriseChannelConfig names one Apprise service URL, read from the environment
type AppriseChannelConfig struct {
	Name   string `yaml:"name"`
	URLEnv string `yaml:"url_env"`
}

// NATSConfig enables publishing alert events to NATS
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// Duration accepts either a Go duration string ("4m") or a bare number of
// seconds (240), the latter being how older config files spell it.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if secs, err := strconv.ParseFloat(value.Value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}
