package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default D-Bus names of the search service.
const (
	DefaultBusName    = "mobi.phosh.Shell.Search"
	DefaultObjectPath = "/mobi/phosh/Shell/Search"
)

// DefaultSettingsDesktopID is the provider always listed first.
const DefaultSettingsDesktopID = "org.gnome.Settings.desktop"

// Config represents the phosh-search configuration.
type Config struct {
	Daemon DaemonConfig `yaml:"daemon"`
	Search SearchConfig `yaml:"search"`
	Client ClientConfig `yaml:"client"`
}

// DaemonConfig holds daemon-related settings.
type DaemonConfig struct {
	LogLevel      string `yaml:"log_level"`      // debug, info, warn, error
	LogFormat     string `yaml:"log_format"`     // text or json
	BusName       string `yaml:"bus_name"`       // Well-known name requested on the session bus
	SocketEnabled bool   `yaml:"socket_enabled"` // Serve the gRPC socket API
	SocketPath    string `yaml:"socket_path"`    // Unix socket path (overrides default)
}

// SearchConfig holds provider selection and query settings.
type SearchConfig struct {
	Enabled           []string `yaml:"enabled,omitempty"`    // Desktop ids of default-disabled providers to enable
	Disabled          []string `yaml:"disabled,omitempty"`   // Desktop ids of providers to disable
	DisableExternal   bool     `yaml:"disable_external"`     // Disable all descriptor-based providers
	SortOrder         []string `yaml:"sort_order,omitempty"` // Desktop ids in display order
	SettingsDesktopID string   `yaml:"settings_desktop_id"`  // Provider always shown first
	DataDirs          []string `yaml:"data_dirs,omitempty"`  // Overrides the XDG data dirs when set

	DebounceMs         int `yaml:"debounce_ms"`          // Delay before fanning out a query
	MaxResults         int `yaml:"max_results"`          // Results kept per group and provider
	ProviderTimeoutMs  int `yaml:"provider_timeout_ms"`  // Per-call timeout (0 = wait forever)
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"` // Provider calls in flight at once
}

// ClientConfig holds client-related settings.
type ClientConfig struct {
	TimeoutMs       int  `yaml:"timeout_ms"`        // Per-request timeout
	AutoStartDaemon bool `yaml:"auto_start_daemon"` // Spawn the daemon for socket clients
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			LogLevel:      "info",
			LogFormat:     "text",
			BusName:       DefaultBusName,
			SocketEnabled: true,
			SocketPath:    "",
		},
		Search: SearchConfig{
			SettingsDesktopID:  DefaultSettingsDesktopID,
			DebounceMs:         150,
			MaxResults:         5,
			ProviderTimeoutMs:  10000,
			MaxConcurrentCalls: 8,
		},
		Client: ClientConfig{
			TimeoutMs:       5000,
			AutoStartDaemon: true,
		},
	}
}

// Debounce returns the query debounce as a duration.
func (s SearchConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// ProviderTimeout returns the per-call provider timeout; zero means none.
func (s SearchConfig) ProviderTimeout() time.Duration {
	return time.Duration(s.ProviderTimeoutMs) * time.Millisecond
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFromFile(DefaultPaths().ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get retrieves a configuration value by dot-separated key, for example
// "search.sort_order". Lists are returned comma-separated.
func (c *Config) Get(key string) (string, error) {
	section, field, err := splitKey(key)
	if err != nil {
		return "", err
	}

	switch section {
	case "daemon":
		return c.getDaemonField(field)
	case "search":
		return c.getSearchField(field)
	case "client":
		return c.getClientField(field)
	default:
		return "", fmt.Errorf("unknown section: %s", section)
	}
}

// Set sets a configuration value by dot-separated key. Lists are given
// comma-separated; an empty value clears the list.
func (c *Config) Set(key, value string) error {
	section, field, err := splitKey(key)
	if err != nil {
		return err
	}

	switch section {
	case "daemon":
		return c.setDaemonField(field, value)
	case "search":
		return c.setSearchField(field, value)
	case "client":
		return c.setClientField(field, value)
	default:
		return fmt.Errorf("unknown section: %s", section)
	}
}

func splitKey(key string) (string, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return "", "", errors.New("key must be in format 'section.key'")
	}
	return parts[0], parts[1], nil
}

func (c *Config) getDaemonField(field string) (string, error) {
	switch field {
	case "log_level":
		return c.Daemon.LogLevel, nil
	case "log_format":
		return c.Daemon.LogFormat, nil
	case "bus_name":
		return c.Daemon.BusName, nil
	case "socket_enabled":
		return strconv.FormatBool(c.Daemon.SocketEnabled), nil
	case "socket_path":
		return c.Daemon.SocketPath, nil
	default:
		return "", fmt.Errorf("unknown field: daemon.%s", field)
	}
}

func (c *Config) setDaemonField(field, value string) error {
	switch field {
	case "log_level":
		if !isValidLogLevel(value) {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", value)
		}
		c.Daemon.LogLevel = value
	case "log_format":
		if !isValidLogFormat(value) {
			return fmt.Errorf("invalid log_format: %s (must be text or json)", value)
		}
		c.Daemon.LogFormat = value
	case "bus_name":
		if value == "" {
			return errors.New("invalid bus_name: must not be empty")
		}
		c.Daemon.BusName = value
	case "socket_enabled":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for socket_enabled: %w", err)
		}
		c.Daemon.SocketEnabled = v
	case "socket_path":
		c.Daemon.SocketPath = value
	default:
		return fmt.Errorf("unknown field: daemon.%s", field)
	}
	return nil
}

func (c *Config) getSearchField(field string) (string, error) {
	s := &c.Search
	switch field {
	case "enabled":
		return strings.Join(s.Enabled, ","), nil
	case "disabled":
		return strings.Join(s.Disabled, ","), nil
	case "disable_external":
		return strconv.FormatBool(s.DisableExternal), nil
	case "sort_order":
		return strings.Join(s.SortOrder, ","), nil
	case "settings_desktop_id":
		return s.SettingsDesktopID, nil
	case "data_dirs":
		return strings.Join(s.DataDirs, ","), nil
	case "debounce_ms":
		return strconv.Itoa(s.DebounceMs), nil
	case "max_results":
		return strconv.Itoa(s.MaxResults), nil
	case "provider_timeout_ms":
		return strconv.Itoa(s.ProviderTimeoutMs), nil
	case "max_concurrent_calls":
		return strconv.Itoa(s.MaxConcurrentCalls), nil
	default:
		return "", fmt.Errorf("unknown field: search.%s", field)
	}
}

func (c *Config) setSearchField(field, value string) error {
	s := &c.Search
	switch field {
	case "enabled":
		s.Enabled = splitList(value)
	case "disabled":
		s.Disabled = splitList(value)
	case "disable_external":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for disable_external: %w", err)
		}
		s.DisableExternal = v
	case "sort_order":
		s.SortOrder = splitList(value)
	case "settings_desktop_id":
		s.SettingsDesktopID = value
	case "data_dirs":
		s.DataDirs = splitList(value)
	case "debounce_ms":
		return setNonNegative(&s.DebounceMs, field, value)
	case "max_results":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_results: %w", err)
		}
		if v < 1 {
			return fmt.Errorf("invalid max_results: must be at least 1")
		}
		s.MaxResults = v
	case "provider_timeout_ms":
		return setNonNegative(&s.ProviderTimeoutMs, field, value)
	case "max_concurrent_calls":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_concurrent_calls: %w", err)
		}
		if v < 1 {
			return fmt.Errorf("invalid max_concurrent_calls: must be at least 1")
		}
		s.MaxConcurrentCalls = v
	default:
		return fmt.Errorf("unknown field: search.%s", field)
	}
	return nil
}

func (c *Config) getClientField(field string) (string, error) {
	switch field {
	case "timeout_ms":
		return strconv.Itoa(c.Client.TimeoutMs), nil
	case "auto_start_daemon":
		return strconv.FormatBool(c.Client.AutoStartDaemon), nil
	default:
		return "", fmt.Errorf("unknown field: client.%s", field)
	}
}

func (c *Config) setClientField(field, value string) error {
	switch field {
	case "timeout_ms":
		return setNonNegative(&c.Client.TimeoutMs, field, value)
	case "auto_start_daemon":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for auto_start_daemon: %w", err)
		}
		c.Client.AutoStartDaemon = v
	default:
		return fmt.Errorf("unknown field: client.%s", field)
	}
	return nil
}

func setNonNegative(dst *int, field, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", field, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid %s: must be non-negative", field)
	}
	*dst = v
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.Daemon.LogLevel) {
		return fmt.Errorf("daemon.log_level must be debug, info, warn, or error (got: %s)", c.Daemon.LogLevel)
	}

	if !isValidLogFormat(c.Daemon.LogFormat) {
		return fmt.Errorf("daemon.log_format must be text or json (got: %s)", c.Daemon.LogFormat)
	}

	if c.Daemon.BusName == "" {
		return errors.New("daemon.bus_name must not be empty")
	}

	if c.Search.DebounceMs < 0 {
		return errors.New("search.debounce_ms must be >= 0")
	}

	if c.Search.MaxResults < 1 {
		return errors.New("search.max_results must be >= 1")
	}

	if c.Search.ProviderTimeoutMs < 0 {
		return errors.New("search.provider_timeout_ms must be >= 0")
	}

	if c.Search.MaxConcurrentCalls < 1 {
		return errors.New("search.max_concurrent_calls must be >= 1")
	}

	if c.Client.TimeoutMs < 0 {
		return errors.New("client.timeout_ms must be >= 0")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	return format == "text" || format == "json"
}

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PHOSH_SEARCH_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Daemon.LogLevel = "debug"
		}
	}
	if v := os.Getenv("PHOSH_SEARCH_LOG_LEVEL"); v != "" {
		if isValidLogLevel(v) {
			c.Daemon.LogLevel = v
		}
	}
	if v := os.Getenv("PHOSH_SEARCH_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
}

// ListKeys returns user-facing configuration keys.
func ListKeys() []string {
	return []string{
		"daemon.log_level",
		"daemon.log_format",
		"daemon.bus_name",
		"daemon.socket_enabled",
		"daemon.socket_path",
		"search.enabled",
		"search.disabled",
		"search.disable_external",
		"search.sort_order",
		"search.settings_desktop_id",
		"search.data_dirs",
		"search.debounce_ms",
		"search.max_results",
		"search.provider_timeout_ms",
		"search.max_concurrent_calls",
		"client.timeout_ms",
		"client.auto_start_daemon",
	}
}

// ResolveSocketPath returns the configured socket path or the default one.
func (c *Config) ResolveSocketPath(paths *Paths) string {
	if c.Daemon.SocketPath != "" {
		return c.Daemon.SocketPath
	}
	return paths.SocketFile()
}

// ResolveDataDirs returns the configured data dirs or the XDG ones.
func (c *Config) ResolveDataDirs(paths *Paths) []string {
	if len(c.Search.DataDirs) > 0 {
		return c.Search.DataDirs
	}
	return paths.DataDirs()
}
