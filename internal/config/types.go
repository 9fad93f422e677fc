// internal/config/types.go
package config

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultEndpoint is the solver endpoint used when no settings record has
// been saved yet.
const DefaultEndpoint = "http://localhost:8000/ocr"

// SolverConfig is the persisted settings record for the external OCR
// service: the endpoint URL plus an optional API key. It is re-read before
// every solve so edits take effect without a restart.
type SolverConfig struct {
	APIURL string `yaml:"api_url" json:"apiUrl"`
	APIKey string `yaml:"api_key" json:"apiKey"`
}

// DefaultSolverConfig returns the built-in settings record.
func DefaultSolverConfig() *SolverConfig {
	return &SolverConfig{
		APIURL: DefaultEndpoint,
		APIKey: "",
	}
}

// Validate checks the settings record. An empty endpoint is allowed here:
// it is a save-time-legal state that only becomes an error when a solve is
// attempted against it.
func (c *SolverConfig) Validate() error {
	if c.APIURL == "" {
		return nil
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url must use http or https, got %q", u.Scheme)
	}
	return nil
}

// BrowserConfig defines browser automation settings.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	WaitDelay      time.Duration `yaml:"wait_delay,omitempty" json:"wait_delay,omitempty"`
}

// DefaultBrowserConfig returns default browser settings.
func DefaultBrowserConfig() *BrowserConfig {
	return &BrowserConfig{
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		WaitDelay:      500 * time.Millisecond,
	}
}

// ServerConfig defines the HTTP adapter settings.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// HistoryConfig defines where solve attempts are recorded.
type HistoryConfig struct {
	// Backend selects the store: "sqlite" (default), "postgres", or "none".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the sqlite database file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	// Table is the attempt log table name.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`
}

// Config is the application configuration loaded from YAML.
type Config struct {
	// SettingsFile is the solver settings record location. The record is
	// its own file so the HTTP settings surface can rewrite it without
	// touching the rest of the configuration.
	SettingsFile string `yaml:"settings_file" json:"settings_file"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Browser *BrowserConfig `yaml:"browser,omitempty" json:"browser,omitempty"`
	Server  *ServerConfig  `yaml:"server,omitempty" json:"server,omitempty"`
	History *HistoryConfig `yaml:"history,omitempty" json:"history,omitempty"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.SettingsFile == "" {
		return fmt.Errorf("settings_file cannot be empty")
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	if c.Browser != nil {
		if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
			return fmt.Errorf("browser viewport dimensions cannot be negative")
		}
		if c.Browser.Timeout < 0 {
			return fmt.Errorf("browser timeout cannot be negative")
		}
	}

	if c.History != nil {
		switch c.History.Backend {
		case "", "sqlite", "postgres", "none":
		default:
			return fmt.Errorf("invalid history backend: %s", c.History.Backend)
		}
		if c.History.Backend == "postgres" && c.History.DSN == "" {
			return fmt.Errorf("history backend postgres requires a dsn")
		}
	}

	return nil
}
