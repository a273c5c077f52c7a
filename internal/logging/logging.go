// Package logging builds the slog loggers used by phosh-searchd and its CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config configures the structured logger.
type Config struct {
	// Output is the writer for log output (default: os.Stderr)
	Output io.Writer

	// Level is the minimum log level (default: LevelInfo)
	Level slog.Level

	// Format is "text" or "json" (default: text)
	Format string

	// Debug enables debug level logging (overrides Level)
	Debug bool
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Output: os.Stderr,
		Level:  slog.LevelInfo,
		Format: "text",
	}
}

// New creates a structured logger.
// The JSON form writes one record per line with the timestamp under "ts":
//
//	{"ts":"2026-01-15T10:30:00Z","level":"INFO","msg":"search service started","bus_name":"mobi.phosh.Shell.Search"}
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	level := cfg.Level
	if cfg.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Key = "ts"
			}
			return a
		}
		return slog.New(slog.NewJSONHandler(output, opts))
	}
	return slog.New(slog.NewTextHandler(output, opts))
}

// ParseLevel maps a configuration level name to a slog level.
// Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DebugFromEnv reports whether PHOSH_SEARCH_DEBUG asks for debug output.
func DebugFromEnv() bool {
	v, err := strconv.ParseBool(os.Getenv("PHOSH_SEARCH_DEBUG"))
	return err == nil && v
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartupInfo holds information logged when the daemon starts.
type StartupInfo struct {
	Version    string
	ConfigPath string
	BusName    string
	SocketPath string
	DataDirs   []string
	PID        int
}

// LogStartup logs daemon startup information.
func LogStartup(logger *slog.Logger, info StartupInfo) {
	logger.Info("search service started",
		"version", info.Version,
		"config_path", info.ConfigPath,
		"bus_name", info.BusName,
		"socket_path", info.SocketPath,
		"data_dirs", info.DataDirs,
		"pid", info.PID,
	)
}

// LogShutdown logs daemon shutdown.
func LogShutdown(logger *slog.Logger, reason string) {
	logger.Info("search service shutting down", "reason", reason)
}

// LogProvidersReloaded logs a completed provider reload.
func LogProvidersReloaded(logger *slog.Logger, reason string, count int) {
	logger.Info("search providers reloaded", "reason", reason, "providers", count)
}
