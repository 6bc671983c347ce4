package config

import (
	"time"

	"github.com/mattjoyce/courier/internal/command"
)

// Config represents the complete courier configuration.
type Config struct {
	Include       []string                 `yaml:"include,omitempty"`
	Service       ServiceConfig            `yaml:"service"`
	State         StateConfig              `yaml:"state"`
	Queue         QueueConfig              `yaml:"queue"`
	API           APIConfig                `yaml:"api,omitempty"`
	Push          *PushConfig              `yaml:"push,omitempty"`
	ConnectorsDir string                   `yaml:"connectors_dir"`
	Accounts      map[string]AccountConfig `yaml:"accounts"`

	// SourceFiles lists every file the configuration was read from.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name                string        `yaml:"name"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	LogLevel            string        `yaml:"log_level"`
	CommandLogRetention time.Duration `yaml:"command_log_retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig tunes the command queues and the runner.
type QueueConfig struct {
	// RetryBudget is how many automatic retries a command gets; 0 means the default.
	RetryBudget    int           `yaml:"retry_budget"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	MaxSize        int           `yaml:"max_size"`
	Workers        int           `yaml:"workers"`
	SyncWhileUsing bool          `yaml:"sync_while_using"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
	// Accounts limits the token to these accounts; empty means all.
	Accounts []string `yaml:"accounts,omitempty"`
}

// PushConfig defines the signed push receiver. Remote servers or a push
// relay POST to an endpoint to make an account refresh its timelines.
type PushConfig struct {
	Listen    string         `yaml:"listen"`
	Endpoints []PushEndpoint `yaml:"endpoints"`
}

// PushEndpoint binds one URL path to an account.
type PushEndpoint struct {
	Path    string `yaml:"path"`
	Account string `yaml:"account"`
	// Timelines refreshed on every push; defaults to notifications.
	Timelines       []string `yaml:"timelines,omitempty"`
	Secret          string   `yaml:"secret"`
	SignatureHeader string   `yaml:"signature_header,omitempty"`
	MaxBodySize     string   `yaml:"max_body_size,omitempty"` // e.g. "64KB", "1MB"
}

// DefaultSignatureHeader carries the HMAC of a push body.
const DefaultSignatureHeader = "X-Courier-Signature"

// TimelineTypes returns the timelines to refresh, defaulting to notifications.
func (e PushEndpoint) TimelineTypes() []command.TimelineType {
	if len(e.Timelines) == 0 {
		return []command.TimelineType{command.TimelineNotifications}
	}
	out := make([]command.TimelineType, 0, len(e.Timelines))
	for _, t := range e.Timelines {
		out = append(out, command.TimelineType(t))
	}
	return out
}

// AccountConfig describes one remote account and the connector serving it.
type AccountConfig struct {
	Connector string         `yaml:"connector"`
	Enabled   *bool          `yaml:"enabled,omitempty"`
	Origin    string         `yaml:"origin"`
	Sync      *SyncConfig    `yaml:"sync,omitempty"`
	Config    map[string]any `yaml:"config,omitempty"`
	Timeout   time.Duration  `yaml:"timeout,omitempty"`
}

// IsEnabled reports whether the account is active. Accounts are enabled
// unless they say otherwise.
func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// SyncConfig defines the periodic background sync of an account.
type SyncConfig struct {
	Every     string        `yaml:"every"` // e.g. "5m", "hourly"
	Jitter    time.Duration `yaml:"jitter,omitempty"`
	Timelines []string      `yaml:"timelines,omitempty"`
}

// TimelineTypes returns the timelines to sync, defaulting to home.
func (s SyncConfig) TimelineTypes() []command.TimelineType {
	if len(s.Timelines) == 0 {
		return []command.TimelineType{command.TimelineHome}
	}
	out := make([]command.TimelineType, 0, len(s.Timelines))
	for _, t := range s.Timelines {
		out = append(out, command.TimelineType(t))
	}
	return out
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                "courier",
			TickInterval:        30 * time.Second,
			LogLevel:            "info",
			CommandLogRetention: 7 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/courier.db",
		},
		Queue: QueueConfig{
			RetryBudget: command.DefaultRetryBudget,
			BackoffBase: 30 * time.Second,
			BackoffMax:  time.Hour,
			MaxSize:     200,
			Workers:     1,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8480",
		},
		ConnectorsDir: "./connectors",
		Accounts:      make(map[string]AccountConfig),
	}
}

// DefaultAccountTimeout bounds a connector call when an account sets none.
const DefaultAccountTimeout = 60 * time.Second
