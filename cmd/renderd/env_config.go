package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alnah/go-renderd/internal/config"
)

// ErrInvalidEnv reports an environment variable that could not be parsed.
var ErrInvalidEnv = errors.New("invalid environment variable")

// envConfig holds configuration from environment variables.
// Pointer fields are nil when the variable is unset, so an explicit zero
// (PROBE_INTERVAL_MS=0 turns the health loop off) still overrides the file.
type envConfig struct {
	ConfigPath string // RENDERD_CONFIG

	// Pool
	MaxPoolSize            *int // MAX_POOL_SIZE (0 = auto)
	MinPoolSize            *int // MIN_POOL_SIZE
	MaxRequestsPerInstance *int // MAX_REQUESTS_PER_INSTANCE
	IdleTimeoutMs          *int // IDLE_TIMEOUT_MS
	ProbeIntervalMs        *int // PROBE_INTERVAL_MS
	ProbeTimeoutMs         *int // PROBE_TIMEOUT_MS
	LaunchTimeoutMs        *int // LAUNCH_TIMEOUT_MS

	// Render
	DefaultTimeoutMs *int // DEFAULT_TIMEOUT_MS
	MaxTimeoutMs     *int // MAX_TIMEOUT_MS

	// Server
	ListenPort     *int     // LISTEN_PORT
	MaxBodyBytes   *int     // MAX_BODY_BYTES
	RateLimitRPS   *float64 // RATE_LIMIT_RPS
	RateLimitBurst *int     // RATE_LIMIT_BURST

	// Chrome
	ChromeBin       string // CHROME_BIN
	ChromeNoSandbox *bool  // CHROME_NO_SANDBOX

	// Observability
	LogLevel        string // LOG_LEVEL
	LogFormat       string // LOG_FORMAT
	TracingExporter string // TRACING_EXPORTER
}

// knownEnvVars lists valid RENDERD_* environment variables.
// Used to detect typos and warn users about unknown variables.
var knownEnvVars = map[string]bool{
	"RENDERD_CONFIG":    true,
	"RENDERD_CONTAINER": true,
}

// loadEnvConfig reads configuration from environment variables.
// Unset and blank variables are skipped; malformed ones are an error.
func loadEnvConfig() (*envConfig, error) {
	cfg := &envConfig{
		ConfigPath:      os.Getenv("RENDERD_CONFIG"),
		ChromeBin:       os.Getenv("CHROME_BIN"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		LogFormat:       os.Getenv("LOG_FORMAT"),
		TracingExporter: os.Getenv("TRACING_EXPORTER"),
	}

	ints := []struct {
		name string
		dst  **int
	}{
		{"MAX_POOL_SIZE", &cfg.MaxPoolSize},
		{"MIN_POOL_SIZE", &cfg.MinPoolSize},
		{"MAX_REQUESTS_PER_INSTANCE", &cfg.MaxRequestsPerInstance},
		{"IDLE_TIMEOUT_MS", &cfg.IdleTimeoutMs},
		{"PROBE_INTERVAL_MS", &cfg.ProbeIntervalMs},
		{"PROBE_TIMEOUT_MS", &cfg.ProbeTimeoutMs},
		{"LAUNCH_TIMEOUT_MS", &cfg.LaunchTimeoutMs},
		{"DEFAULT_TIMEOUT_MS", &cfg.DefaultTimeoutMs},
		{"MAX_TIMEOUT_MS", &cfg.MaxTimeoutMs},
		{"LISTEN_PORT", &cfg.ListenPort},
		{"MAX_BODY_BYTES", &cfg.MaxBodyBytes},
		{"RATE_LIMIT_BURST", &cfg.RateLimitBurst},
	}
	for _, v := range ints {
		raw, ok := lookupEnv(v.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %s=%q (want a non-negative integer)", ErrInvalidEnv, v.name, raw)
		}
		*v.dst = &n
	}

	if raw, ok := lookupEnv("RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("%w: RATE_LIMIT_RPS=%q (want a non-negative number)", ErrInvalidEnv, raw)
		}
		cfg.RateLimitRPS = &rps
	}

	if raw, ok := lookupEnv("CHROME_NO_SANDBOX"); ok {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: CHROME_NO_SANDBOX=%q (want true or false)", ErrInvalidEnv, raw)
		}
		cfg.ChromeNoSandbox = &b
	}

	return cfg, nil
}

// lookupEnv treats blank values as unset.
func lookupEnv(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// warnUnknownEnvVars logs warnings for unrecognized RENDERD_* variables.
// Helps catch typos like RENDERD_CONFG instead of RENDERD_CONFIG.
func warnUnknownEnvVars(w io.Writer) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "RENDERD_") {
			name := strings.SplitN(env, "=", 2)[0]
			if !knownEnvVars[name] {
				fmt.Fprintf(w, "warning: unknown environment variable %s (typo?)\n", name)
			}
		}
	}
}

// applyEnvConfig overlays set environment values onto cfg.
// Precedence: CLI flags > env vars > config file > defaults
// (CLI flags are applied later via applyFlags)
func applyEnvConfig(env *envConfig, cfg *config.Config) {
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}

	setInt(&cfg.Pool.MaxSize, env.MaxPoolSize)
	setInt(&cfg.Pool.MinSize, env.MinPoolSize)
	setInt(&cfg.Pool.MaxRequestsPerInstance, env.MaxRequestsPerInstance)
	setInt(&cfg.Pool.IdleTimeoutMs, env.IdleTimeoutMs)
	setInt(&cfg.Pool.ProbeIntervalMs, env.ProbeIntervalMs)
	setInt(&cfg.Pool.ProbeTimeoutMs, env.ProbeTimeoutMs)
	setInt(&cfg.Pool.LaunchTimeoutMs, env.LaunchTimeoutMs)
	setInt(&cfg.Render.DefaultTimeoutMs, env.DefaultTimeoutMs)
	setInt(&cfg.Render.MaxTimeoutMs, env.MaxTimeoutMs)
	setInt(&cfg.Server.Port, env.ListenPort)
	setInt(&cfg.Server.RateLimit.Burst, env.RateLimitBurst)

	if env.MaxBodyBytes != nil {
		cfg.Server.MaxBodyBytes = int64(*env.MaxBodyBytes)
	}
	if env.RateLimitRPS != nil {
		cfg.Server.RateLimit.RPS = *env.RateLimitRPS
	}
	if env.ChromeBin != "" {
		cfg.Chrome.Bin = env.ChromeBin
	}
	if env.ChromeNoSandbox != nil {
		cfg.Chrome.NoSandbox = *env.ChromeNoSandbox
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		cfg.Log.Format = env.LogFormat
	}
	if env.TracingExporter != "" {
		cfg.Tracing.Exporter = env.TracingExporter
	}
}
