package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/alnah/go-renderd"
	"github.com/alnah/go-renderd/internal/config"
	"github.com/alnah/go-renderd/internal/httpapi"
	"github.com/alnah/go-renderd/internal/logger"
	"github.com/alnah/go-renderd/internal/metrics"
	"github.com/alnah/go-renderd/internal/telemetry"
)

// Server timeouts.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute

	// drainGrace is added to the max job timeout when draining on shutdown.
	drainGrace = 5 * time.Second
)

// Environment holds injectable dependencies for testability.
type Environment struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Factory  renderd.BrowserFactory // nil = Chrome via go-rod
	Listener net.Listener           // nil = listen on the configured port
}

// DefaultEnv returns the production environment.
func DefaultEnv() *Environment {
	return &Environment{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// app is the wired service: pool, executor, metrics, and HTTP handler.
type app struct {
	pool     *renderd.Pool
	executor *renderd.Executor
	handler  http.Handler
}

// newApp wires the service from cfg. No browser is launched yet.
func newApp(cfg *config.Config, factory renderd.BrowserFactory, log *zap.Logger, tracer trace.Tracer) (*app, error) {
	collector := metrics.New()
	opts := []renderd.Option{
		renderd.WithLogger(log),
		renderd.WithObserver(collector),
		renderd.WithTracer(tracer),
	}

	pool, err := renderd.NewPool(factory, poolConfig(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	collector.RegisterPool(pool.Stats)

	executor := renderd.NewExecutor(pool, renderd.ExecutorConfig{
		DefaultTimeout: millis(cfg.Render.DefaultTimeoutMs),
		MaxTimeout:     millis(cfg.Render.MaxTimeoutMs),
		RetryInterval:  renderd.DefaultRetryInterval,
	}, opts...)

	handler := httpapi.NewRouter(httpapi.Deps{
		Renderer:     executor,
		Pool:         pool,
		Metrics:      collector.Handler(),
		Logger:       log,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		RateLimit: httpapi.RateLimit{
			RPS:   cfg.Server.RateLimit.RPS,
			Burst: cfg.Server.RateLimit.Burst,
		},
	})

	return &app{pool: pool, executor: executor, handler: handler}, nil
}

// poolConfig converts the millisecond-based file config.
func poolConfig(cfg *config.Config) renderd.PoolConfig {
	p := cfg.Pool
	maxSize := renderd.ResolvePoolSize(p.MaxSize)
	if p.MaxSize == 0 && p.MinSize > maxSize {
		maxSize = p.MinSize
	}
	return renderd.PoolConfig{
		MinSize:                p.MinSize,
		MaxSize:                maxSize,
		MaxRequestsPerInstance: p.MaxRequestsPerInstance,
		IdleTimeout:            millis(p.IdleTimeoutMs),
		ProbeInterval:          millis(p.ProbeIntervalMs),
		ProbeTimeout:           millis(p.ProbeTimeoutMs),
		ResetTimeout:           renderd.DefaultResetTimeout,
		LaunchTimeout:          millis(p.LaunchTimeoutMs),
	}
}

// rodFactory builds the production browser factory.
func rodFactory(cfg *config.Config) renderd.BrowserFactory {
	return renderd.NewRodFactory(renderd.RodOptions{
		Bin:           cfg.Chrome.Bin,
		NoSandbox:     cfg.Chrome.NoSandbox,
		LaunchTimeout: millis(cfg.Pool.LaunchTimeoutMs),
		Flags:         cfg.Chrome.Flags,
	})
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// serve runs the service until ctx is canceled, then drains HTTP requests
// before shutting the pool down so in-flight leases are released first.
func serve(ctx context.Context, cfg *config.Config, env *Environment) (err error) {
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: env.Stderr})
	defer func() { _ = log.Sync() }()

	tracer, shutdownTracing, err := telemetry.Setup(telemetry.Config{
		Exporter:       cfg.Tracing.Exporter,
		ServiceName:    "renderd",
		ServiceVersion: Version,
		Output:         env.Stdout,
	}, log)
	if err != nil {
		return err
	}

	factory := env.Factory
	if factory == nil {
		factory = rodFactory(cfg)
	}
	a, err := newApp(cfg, factory, log, tracer)
	if err != nil {
		return err
	}

	drain := millis(cfg.Render.MaxTimeoutMs) + drainGrace
	shutdown := func(srv *http.Server) error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		var errs []error
		if srv != nil {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		errs = append(errs, a.pool.Shutdown(shutdownCtx), shutdownTracing(shutdownCtx))
		return errors.Join(errs...)
	}

	if err := a.pool.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("starting pool: %w", err), shutdown(nil))
	}
	stats := a.pool.Stats()
	log.Info("pool ready",
		zap.Int("ready", stats.Ready),
		zap.Int("min", stats.MinSize),
		zap.Int("max", stats.MaxSize))

	ln := env.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)))
		if err != nil {
			return errors.Join(fmt.Errorf("listening: %w", err), shutdown(nil))
		}
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("version", Version))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down", zap.Duration("drain", drain))
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serving: %w", err)
		}
	}

	if err := shutdown(srv); err != nil {
		runErr = errors.Join(runErr, err)
	}
	log.Info("stopped")
	return runErr
}
