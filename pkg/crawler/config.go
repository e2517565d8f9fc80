package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/SiteAudit/internal/audit"
	"github.com/PentesterFlow/SiteAudit/internal/browser"
	"github.com/PentesterFlow/SiteAudit/internal/scope"
)

// Config holds all scan configuration.
type Config struct {
	// Discovery pass
	Discovery DiscoveryConfig `json:"discovery" yaml:"discovery"`

	// Per-page audits
	Audit audit.Config `json:"audit" yaml:"audit"`

	// Browser configuration
	Browser browser.Config `json:"browser" yaml:"browser"`

	// Overall deadline for one scan; 0 means none
	ScanTimeout time.Duration `json:"scan_timeout" yaml:"scan_timeout"`

	// HTTP server
	Server ServerConfig `json:"server" yaml:"server"`

	// Logging
	Log LogConfig `json:"log" yaml:"log"`
}

// DiscoveryConfig controls the breadth-first discovery pass.
type DiscoveryConfig struct {
	// Maximum number of pages admitted to the discovered list
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// Timeout of one discovery navigation
	NavigationTimeout time.Duration `json:"navigation_timeout" yaml:"navigation_timeout"`

	// Lifecycle event a discovery navigation waits for
	WaitUntil browser.WaitUntil `json:"wait_until" yaml:"wait_until"`

	// Path extensions never enqueued
	ExcludeExtensions []string `json:"exclude_extensions" yaml:"exclude_extensions"`

	// Regular expressions; matching URLs are never enqueued
	ExcludePatterns []string `json:"exclude_patterns" yaml:"exclude_patterns"`

	// Abort image, stylesheet, font and media requests while discovering
	BlockResources bool `json:"block_resources" yaml:"block_resources"`

	// Navigations per second per origin; 0 means unlimited
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst size for RequestsPerSecond
	Burst int `json:"burst" yaml:"burst"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
	StorePath       string        `json:"store_path" yaml:"store_path"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			MaxPages:          100,
			NavigationTimeout: 15 * time.Second,
			WaitUntil:         browser.WaitDOMContentLoaded,
			ExcludeExtensions: append([]string(nil), scope.DefaultExcludeExtensions...),
			BlockResources:    true,
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Audit:   audit.DefaultConfig(),
		Browser: browser.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":5000",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// LoadConfig loads configuration from a file (YAML or JSON). Fields missing
// from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// Save writes the configuration to path, as JSON when the path ends in
// .json and YAML otherwise.
func (c *Config) Save(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Discovery.MaxPages < 1 {
		return fmt.Errorf("max pages must be at least 1")
	}

	if c.Discovery.NavigationTimeout <= 0 {
		return fmt.Errorf("discovery navigation timeout must be positive")
	}

	if c.Discovery.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}

	if c.Audit.NavigationTimeout <= 0 {
		return fmt.Errorf("audit navigation timeout must be positive")
	}

	if c.Audit.Retries < 0 {
		return fmt.Errorf("retries cannot be negative")
	}

	switch c.Audit.Engine {
	case "", audit.EngineHeuristic, audit.EngineLighthouse:
	default:
		return fmt.Errorf("unknown audit engine %q", c.Audit.Engine)
	}

	if c.Browser.Backend != "" && !browser.HasBackend(c.Browser.Backend) {
		return fmt.Errorf("unknown browser backend %q (registered: %s)", c.Browser.Backend, strings.Join(browser.Backends(), ", "))
	}

	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan timeout cannot be negative")
	}

	return nil
}

// ScopeRules returns the link rules for the discovery pass.
func (c *Config) ScopeRules() scope.Rules {
	return scope.Rules{
		ExcludeExtensions: c.Discovery.ExcludeExtensions,
		ExcludePatterns:   c.Discovery.ExcludePatterns,
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}
