package renderd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Executor defaults.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxTimeout    = 2 * time.Minute
	DefaultRetryInterval = 100 * time.Millisecond

	// livenessTimeout bounds the ping used to decide whether a browser that
	// failed a capture can be reused.
	livenessTimeout = time.Second
)

// ExecutorConfig tunes job execution.
type ExecutorConfig struct {
	DefaultTimeout time.Duration // used when Job.Timeout is zero
	MaxTimeout     time.Duration // upper bound on any job budget
	RetryInterval  time.Duration // initial backoff before the acquire retry
}

// DefaultExecutorConfig returns the configuration used by the server.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout: DefaultTimeout,
		MaxTimeout:     DefaultMaxTimeout,
		RetryInterval:  DefaultRetryInterval,
	}
}

// Executor runs jobs against a Pool: acquire a browser, navigate, capture,
// and hand the browser back, all within the job's timeout budget.
type Executor struct {
	pool   *Pool
	cfg    ExecutorConfig
	md     *markdownConverter
	log    *zap.Logger
	obs    Observer
	tracer trace.Tracer
	now    func() time.Time
}

// NewExecutor creates an Executor backed by pool.
func NewExecutor(pool *Pool, cfg ExecutorConfig, opts ...Option) *Executor {
	o := buildOptions(opts)
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = DefaultMaxTimeout
	}
	if cfg.DefaultTimeout > cfg.MaxTimeout {
		cfg.DefaultTimeout = cfg.MaxTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Executor{
		pool:   pool,
		cfg:    cfg,
		md:     newMarkdownConverter(),
		log:    o.logger.Named("executor"),
		obs:    o.observer,
		tracer: o.tracer,
		now:    o.now,
	}
}

// Execute renders job and returns the artifact. The whole call, including
// the wait for a browser, is bounded by the job's timeout: when it expires
// mid-operation Execute returns at once and the browser is discarded.
func (e *Executor) Execute(ctx context.Context, job Job) (*Result, error) {
	start := e.now()

	ctx, span := e.tracer.Start(ctx, "renderd.Execute", trace.WithAttributes(
		attribute.String("render.kind", string(job.Output)),
		attribute.String("render.source", string(job.ResolvedSource())),
	))
	defer span.End()

	res, err := e.execute(ctx, job, start)

	elapsed := e.now().Sub(start)
	kind := KindOf(err)
	e.obs.JobFinished(job.Output, kind, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		e.log.Info("job failed",
			zap.String("kind", string(job.Output)),
			zap.String("error_kind", string(kind)),
			zap.Duration("took", elapsed),
			zap.Error(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("render.instance", res.InstanceID),
		attribute.Int("render.bytes", len(res.Data)),
	)
	e.log.Debug("job done",
		zap.String("kind", string(job.Output)),
		zap.String("instance", res.InstanceID),
		zap.Int("bytes", len(res.Data)),
		zap.Duration("took", elapsed))
	return res, nil
}

func (e *Executor) execute(ctx context.Context, job Job, start time.Time) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.resolveTimeout(job.Timeout))
	defer cancel()

	target, err := e.prepareTarget(ctx, job)
	if err != nil {
		return nil, err
	}

	lease, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	acquired := e.now()
	trace.SpanFromContext(ctx).AddEvent("lease.acquired", trace.WithAttributes(
		attribute.String("render.instance", lease.InstanceID()),
	))

	data, timings, err := e.render(ctx, lease, job, target)
	if err != nil {
		return nil, err
	}
	timings.Acquire = acquired.Sub(start)

	return &Result{
		Data:        data,
		ContentType: job.ContentType(),
		InstanceID:  lease.InstanceID(),
		Duration:    e.now().Sub(start),
		Timings:     timings,
	}, nil
}

// resolveTimeout picks the job budget: the job's own, or the default,
// never more than MaxTimeout.
func (e *Executor) resolveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return e.cfg.DefaultTimeout
	}
	return min(requested, e.cfg.MaxTimeout)
}

// prepareTarget turns the job's target into what the browser loads.
func (e *Executor) prepareTarget(ctx context.Context, job Job) (Target, error) {
	switch job.ResolvedSource() {
	case SourceURL:
		return Target{URL: strings.TrimSpace(job.Target)}, nil
	case SourceMarkdown:
		doc, err := e.md.ToHTML(ctx, job.Target)
		if err != nil {
			if ctx.Err() != nil {
				return Target{}, fmt.Errorf("%w: converting markdown: %v", ErrNavigationTimeout, err)
			}
			return Target{}, err
		}
		return Target{HTML: doc}, nil
	default:
		markup := job.Target
		if job.StripCodeFences {
			markup = StripCodeFences(markup)
		}
		return Target{HTML: markup}, nil
	}
}

// acquire leases a browser. The first attempt may use half of the remaining
// budget; after ErrPoolExhausted one more attempt follows a backoff delay,
// bounded by what is left.
func (e *Executor) acquire(ctx context.Context) (*Lease, error) {
	var (
		lease   *Lease
		attempt int
	)
	op := func() error {
		attempt++
		actx := ctx
		if attempt == 1 {
			if deadline, ok := ctx.Deadline(); ok {
				half := time.Until(deadline) / 2
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(ctx, half)
				defer cancel()
			}
		}
		l, err := e.pool.Acquire(actx)
		if err == nil {
			lease = l
			return nil
		}
		if errors.Is(err, ErrPoolExhausted) && ctx.Err() == nil {
			e.log.Debug("pool exhausted, retrying", zap.Int("attempt", attempt))
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInterval
	b.MaxElapsedTime = 0 // bounded by ctx
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx))
	if err == nil {
		return lease, nil
	}
	switch {
	case errors.Is(err, ErrPoolExhausted), errors.Is(err, ErrPoolClosed):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, err)
	default:
		return nil, err
	}
}

// render drives the leased browser and ends the lease on every path.
func (e *Executor) render(ctx context.Context, lease *Lease, job Job, target Target) (data []byte, timings Timings, err error) {
	b := lease.Browser()
	discard := false
	defer func() {
		if discard {
			lease.Discard(err)
		} else {
			lease.Release()
		}
	}()

	vp := DefaultViewport()
	if job.Viewport != nil {
		vp = *job.Viewport
	}

	navStart := e.now()
	_, err = runBounded(ctx, func(c context.Context) (struct{}, error) {
		if err := b.SetViewport(c, vp); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, b.Navigate(c, target)
	})
	if err == nil && job.WaitFor > 0 {
		err = sleepContext(ctx, job.WaitFor)
	}
	timings.Navigate = e.now().Sub(navStart)
	if err != nil {
		discard = e.mustDiscard(ctx, b, err)
		return nil, timings, phaseError(ctx, err, ErrNavigationTimeout, ErrNavigation)
	}
	trace.SpanFromContext(ctx).AddEvent("navigated")

	capStart := e.now()
	opts := CaptureOptions{Screenshot: job.Screenshot, PDF: job.PDF}
	out, err := runBounded(ctx, func(c context.Context) ([]byte, error) {
		return b.Capture(c, job.Output, opts)
	})
	timings.Capture = e.now().Sub(capStart)
	if err != nil {
		discard = e.mustDiscard(ctx, b, err)
		return nil, timings, phaseError(ctx, err, ErrCaptureTimeout, ErrCapture)
	}
	trace.SpanFromContext(ctx).AddEvent("captured")
	return out, timings, nil
}

// mustDiscard decides whether a browser that failed a phase may be reused.
// Timeouts and cancellations leave it in an unknown state; other failures
// are reusable only if the browser still answers a ping.
func (e *Executor) mustDiscard(ctx context.Context, b Browser, err error) bool {
	if ctx.Err() != nil || IsTimeout(err) {
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, livenessTimeout)
	defer cancel()
	_, perr := runBounded(pctx, func(c context.Context) (struct{}, error) {
		return struct{}{}, b.Ping(c)
	})
	if perr != nil {
		e.log.Warn("browser stopped answering", zap.Error(perr))
		return true
	}
	return false
}

// phaseError maps a failed phase onto the sentinel callers see.
func phaseError(ctx context.Context, err, timeout, generic error) error {
	switch {
	case errors.Is(err, timeout), errors.Is(err, generic):
		return err
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", timeout, err)
	default:
		return fmt.Errorf("%w: %v", generic, err)
	}
}

// runBounded runs fn in a goroutine and returns when fn does or ctx is
// done, whichever comes first. fn keeps running after ctx expires; callers
// must make sure it unblocks, for example by killing the browser.
func runBounded[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DefaultViewport returns the viewport used when a job sets none.
func DefaultViewport() Viewport {
	return Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
}
