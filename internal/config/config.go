package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alnah/go-renderd/internal/yamlutil"
)

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
	ErrInvalidConfig   = errors.New("invalid config")
)

// Defaults for the server and pool.
const (
	DefaultPort                   = 8000
	DefaultMaxBodyBytes           = 10 << 20
	DefaultMinPoolSize            = 1
	DefaultMaxRequestsPerInstance = 100
	DefaultIdleTimeoutMs          = 300_000
	DefaultProbeIntervalMs        = 10_000
	DefaultProbeTimeoutMs         = 2_000
	DefaultLaunchTimeoutMs        = 20_000
	DefaultTimeoutMs              = 30_000
	DefaultMaxTimeoutMs           = 120_000
)

// Upper bounds. They catch unit mistakes (seconds typed as ms and the like).
const (
	MaxPoolSize      = 64
	MaxBodyBytes     = 100 << 20
	MaxTimeoutMs     = 10 * 60_000
	MaxChromeFlags   = 64
	MaxFlagLength    = 256
	MaxBinPathLength = 4096
)

// Config holds all configuration for the rendering server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Pool    PoolConfig    `yaml:"pool"`
	Render  RenderConfig  `yaml:"render"`
	Chrome  ChromeConfig  `yaml:"chrome"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Port         int             `yaml:"port"`
	MaxBodyBytes int64           `yaml:"maxBodyBytes"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig defines the token bucket in front of /render.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`   // 0 = off
	Burst int     `yaml:"burst"` // default: ceil(rps)
}

// PoolConfig defines browser pool sizing and health checks.
type PoolConfig struct {
	MinSize                int `yaml:"minSize"`
	MaxSize                int `yaml:"maxSize"` // 0 = auto from CPU count
	MaxRequestsPerInstance int `yaml:"maxRequestsPerInstance"`
	IdleTimeoutMs          int `yaml:"idleTimeoutMs"`   // 0 = never retire
	ProbeIntervalMs        int `yaml:"probeIntervalMs"` // 0 = no health loop
	ProbeTimeoutMs         int `yaml:"probeTimeoutMs"`
	LaunchTimeoutMs        int `yaml:"launchTimeoutMs"`
}

// RenderConfig defines job budgets.
type RenderConfig struct {
	DefaultTimeoutMs int `yaml:"defaultTimeoutMs"`
	MaxTimeoutMs     int `yaml:"maxTimeoutMs"`
}

// ChromeConfig defines how browsers are launched.
type ChromeConfig struct {
	Bin       string   `yaml:"bin"` // empty = ROD_BROWSER_BIN, then PATH
	NoSandbox bool     `yaml:"noSandbox"`
	Flags     []string `yaml:"flags"`
}

// LogConfig defines logger output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultPort,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Pool: PoolConfig{
			MinSize:                DefaultMinPoolSize,
			MaxRequestsPerInstance: DefaultMaxRequestsPerInstance,
			IdleTimeoutMs:          DefaultIdleTimeoutMs,
			ProbeIntervalMs:        DefaultProbeIntervalMs,
			ProbeTimeoutMs:         DefaultProbeTimeoutMs,
			LaunchTimeoutMs:        DefaultLaunchTimeoutMs,
		},
		Render: RenderConfig{
			DefaultTimeoutMs: DefaultTimeoutMs,
			MaxTimeoutMs:     DefaultMaxTimeoutMs,
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{Exporter: "none"},
	}
}

// Validate checks ranges and enumerations.
// Called automatically by LoadConfig, and again by the server after the
// environment and flags are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port: must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 || c.Server.MaxBodyBytes > MaxBodyBytes {
		return invalid("server.maxBodyBytes: must be between 0 and %d, got %d", MaxBodyBytes, c.Server.MaxBodyBytes)
	}
	if c.Server.RateLimit.RPS < 0 {
		return invalid("server.rateLimit.rps: cannot be negative")
	}
	if c.Server.RateLimit.Burst < 0 {
		return invalid("server.rateLimit.burst: cannot be negative")
	}

	p := c.Pool
	if p.MaxSize < 0 || p.MaxSize > MaxPoolSize {
		return invalid("pool.maxSize: must be between 0 and %d, got %d", MaxPoolSize, p.MaxSize)
	}
	if p.MinSize < 0 || p.MinSize > MaxPoolSize {
		return invalid("pool.minSize: must be between 0 and %d, got %d", MaxPoolSize, p.MinSize)
	}
	if p.MaxSize != 0 && p.MinSize > p.MaxSize {
		return invalid("pool.minSize (%d) exceeds pool.maxSize (%d)", p.MinSize, p.MaxSize)
	}
	if p.MaxRequestsPerInstance < 0 {
		return invalid("pool.maxRequestsPerInstance: cannot be negative")
	}
	for name, ms := range map[string]int{
		"pool.idleTimeoutMs":   p.IdleTimeoutMs,
		"pool.probeIntervalMs": p.ProbeIntervalMs,
		"pool.probeTimeoutMs":  p.ProbeTimeoutMs,
		"pool.launchTimeoutMs": p.LaunchTimeoutMs,
	} {
		if err := validateMillis(name, ms); err != nil {
			return err
		}
	}

	if err := validateMillis("render.defaultTimeoutMs", c.Render.DefaultTimeoutMs); err != nil {
		return err
	}
	if err := validateMillis("render.maxTimeoutMs", c.Render.MaxTimeoutMs); err != nil {
		return err
	}
	if c.Render.MaxTimeoutMs > 0 && c.Render.DefaultTimeoutMs > c.Render.MaxTimeoutMs {
		return invalid("render.defaultTimeoutMs (%d) exceeds render.maxTimeoutMs (%d)",
			c.Render.DefaultTimeoutMs, c.Render.MaxTimeoutMs)
	}

	if len(c.Chrome.Bin) > MaxBinPathLength {
		return invalid("chrome.bin: path exceeds %d chars", MaxBinPathLength)
	}
	if len(c.Chrome.Flags) > MaxChromeFlags {
		return invalid("chrome.flags: %d flags (max %d)", len(c.Chrome.Flags), MaxChromeFlags)
	}
	for i, f := range c.Chrome.Flags {
		if strings.TrimSpace(f) == "" || len(f) > MaxFlagLength {
			return invalid("chrome.flags[%d]: must be non-empty and at most %d chars", i, MaxFlagLength)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("log.level: invalid value %q (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return invalid("log.format: invalid value %q (must be json or console)", c.Log.Format)
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "none", "stdout":
	default:
		return invalid("tracing.exporter: invalid value %q (must be none or stdout)", c.Tracing.Exporter)
	}

	return nil
}

func validateMillis(field string, ms int) error {
	if ms < 0 || ms > MaxTimeoutMs {
		return invalid("%s: must be between 0 and %d, got %d", field, MaxTimeoutMs, ms)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// LoadConfig loads configuration from a file path or config name.
// If nameOrPath contains a path separator, it's treated as a file path.
// Otherwise, it's treated as a config name and searched in standard locations.
// Keys missing from the file keep their DefaultConfig values.
// Returns error if the file is not found (no silent fallback).
func LoadConfig(nameOrPath string) (*Config, error) {
	if nameOrPath == "" {
		return nil, ErrEmptyConfigName
	}

	configPath := nameOrPath
	if !isFilePath(nameOrPath) {
		var err error
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, err
		}
	}

	cfg := DefaultConfig()
	if err := yamlutil.DecodeFile(configPath, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// isFilePath returns true if the string looks like a file path.
func isFilePath(s string) bool {
	return strings.ContainsAny(s, "/\\")
}

// resolveConfigPath searches for a config file by name in standard locations.
// Tries extensions in order: .yaml, .yml
// Tries locations in order: current directory, ~/.config/go-renderd/
func resolveConfigPath(name string) (string, error) {
	extensions := []string{".yaml", ".yml"}
	triedPaths := make([]string, 0, len(extensions)*2)

	for _, ext := range extensions {
		localPath := name + ext
		if fileExists(localPath) {
			return localPath, nil
		}
		triedPaths = append(triedPaths, localPath)
	}

	if userConfigDir, err := os.UserConfigDir(); err == nil {
		for _, ext := range extensions {
			userPath := filepath.Join(userConfigDir, "go-renderd", name+ext)
			if fileExists(userPath) {
				return userPath, nil
			}
			triedPaths = append(triedPaths, userPath)
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(triedPaths, ", "))
}

// fileExists returns true if the path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
