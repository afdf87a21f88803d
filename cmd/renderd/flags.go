package main

import (
	"io"

	flag "github.com/spf13/pflag"

	"github.com/alnah/go-renderd/internal/config"
)

// serveFlags holds flags for the serve command.
type serveFlags struct {
	config string

	port         int
	maxBodyBytes int64
	rps          float64
	burst        int

	minPool     int
	maxPool     int
	maxRequests int

	timeout    int // ms
	maxTimeout int // ms

	chromeBin string
	noSandbox bool

	logLevel  string
	logFormat string
	tracing   string
}

// parseServeFlags parses serve flags. Only flags the user actually passed
// override lower layers; fs.Changed tells them apart from defaults.
func parseServeFlags(args []string, stderr io.Writer) (*serveFlags, *flag.FlagSet, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &serveFlags{}

	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")

	fs.IntVarP(&f.port, "port", "p", config.DefaultPort, "listen port")
	fs.Int64Var(&f.maxBodyBytes, "max-body-bytes", config.DefaultMaxBodyBytes, "max POST /render body size")
	fs.Float64Var(&f.rps, "rate-limit", 0, "max /render requests per second (0 = off)")
	fs.IntVar(&f.burst, "rate-burst", 0, "rate limit burst (0 = ceil(rate))")

	fs.IntVar(&f.minPool, "min-pool", config.DefaultMinPoolSize, "browsers kept warm")
	fs.IntVar(&f.maxPool, "max-pool", 0, "max concurrent browsers (0 = auto)")
	fs.IntVar(&f.maxRequests, "max-requests", config.DefaultMaxRequestsPerInstance, "jobs per browser before it is recycled (0 = unlimited)")

	fs.IntVarP(&f.timeout, "timeout", "t", config.DefaultTimeoutMs, "default job timeout in ms")
	fs.IntVar(&f.maxTimeout, "max-timeout", config.DefaultMaxTimeoutMs, "max job timeout in ms")

	fs.StringVar(&f.chromeBin, "chrome-bin", "", "Chrome/Chromium binary (default: ROD_BROWSER_BIN, then PATH)")
	fs.BoolVar(&f.noSandbox, "no-sandbox", false, "launch Chrome without its sandbox (containers)")

	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "json", "log format: json, console")
	fs.StringVar(&f.tracing, "tracing", "none", "trace exporter: none, stdout")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs, nil
}

// applyFlags copies explicitly set flags onto cfg.
func applyFlags(fs *flag.FlagSet, f *serveFlags, cfg *config.Config) {
	set := fs.Changed

	if set("port") {
		cfg.Server.Port = f.port
	}
	if set("max-body-bytes") {
		cfg.Server.MaxBodyBytes = f.maxBodyBytes
	}
	if set("rate-limit") {
		cfg.Server.RateLimit.RPS = f.rps
	}
	if set("rate-burst") {
		cfg.Server.RateLimit.Burst = f.burst
	}
	if set("min-pool") {
		cfg.Pool.MinSize = f.minPool
	}
	if set("max-pool") {
		cfg.Pool.MaxSize = f.maxPool
	}
	if set("max-requests") {
		cfg.Pool.MaxRequestsPerInstance = f.maxRequests
	}
	if set("timeout") {
		cfg.Render.DefaultTimeoutMs = f.timeout
	}
	if set("max-timeout") {
		cfg.Render.MaxTimeoutMs = f.maxTimeout
	}
	if set("chrome-bin") {
		cfg.Chrome.Bin = f.chromeBin
	}
	if set("no-sandbox") {
		cfg.Chrome.NoSandbox = f.noSandbox
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if set("tracing") {
		cfg.Tracing.Exporter = f.tracing
	}
}

// resolveConfig layers defaults, the config file, the environment, and
// flags, then validates the result.
func resolveConfig(args []string, stderr io.Writer) (*config.Config, error) {
	f, fs, err := parseServeFlags(args, stderr)
	if err != nil {
		return nil, err
	}

	cfg, err := baseConfig(f.config, stderr)
	if err != nil {
		return nil, err
	}
	applyFlags(fs, f, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// baseConfig returns defaults overlaid with the config file and the
// environment. An explicit path wins over RENDERD_CONFIG.
func baseConfig(path string, stderr io.Writer) (*config.Config, error) {
	warnUnknownEnvVars(stderr)
	env, err := loadEnvConfig()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = env.ConfigPath
	}

	cfg := config.DefaultConfig()
	if path != "" {
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	applyEnvConfig(env, cfg)
	return cfg, nil
}
