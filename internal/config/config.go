// Package config loads and validates the marketsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// MarketURL is the base URL of the marketplace API (e.g. "https://marketplace.example.com/api").
	MarketURL string `yaml:"market_url"`

	// APIToken is the bearer token used to authenticate with the marketplace.
	APIToken string `yaml:"api_token"`

	// PollInterval controls how often a running import job is polled for
	// status. Minimum 1s, maximum 1m. Defaults to 5s if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RefreshInterval controls how often the full listing set is refreshed
	// from the marketplace. Minimum 30s, maximum 1h. Defaults to 5m if unset.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// AutoTriggerImport starts one import automatically once the merchant
	// probe succeeds.
	AutoTriggerImport bool `yaml:"auto_trigger_import"`

	// ImportTimeout bounds how long an import job may run before it is
	// declared dead. Defaults to 5m if unset.
	ImportTimeout time.Duration `yaml:"import_timeout"`

	// HistoryDB overrides the path of the import history database.
	// Defaults to ~/.local/share/marketsync/history.db.
	HistoryDB string `yaml:"history_db,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "marketsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/marketsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "marketsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.MarketURL == "" {
		return fmt.Errorf("market_url is required")
	}
	u, err := url.ParseRequestURI(c.MarketURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("market_url %q must be a valid http or https URL", c.MarketURL)
	}

	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}

	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 1s)", c.PollInterval)
	}
	if c.PollInterval > time.Minute {
		return fmt.Errorf("poll_interval %v is too long (maximum 1m)", c.PollInterval)
	}

	if c.RefreshInterval == 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.RefreshInterval < 30*time.Second {
		return fmt.Errorf("refresh_interval %v is too short (minimum 30s)", c.RefreshInterval)
	}
	if c.RefreshInterval > time.Hour {
		return fmt.Errorf("refresh_interval %v is too long (maximum 1h)", c.RefreshInterval)
	}

	if c.ImportTimeout < 0 {
		return fmt.Errorf("import_timeout %v must not be negative", c.ImportTimeout)
	}
	if c.ImportTimeout == 0 {
		c.ImportTimeout = 5 * time.Minute
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
