package renderd

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// tracerName identifies spans created by this package.
const tracerName = "github.com/alnah/go-renderd"

// Observer receives pool and job events, typically to feed metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	InstanceLaunched(d time.Duration)
	InstanceLaunchFailed()
	InstanceEvicted(reason EvictReason)
	LeaseAcquired(wait time.Duration)
	JobFinished(kind OutputKind, errKind ErrorKind, d time.Duration)
}

// nopObserver discards all events.
type nopObserver struct{}

func (nopObserver) InstanceLaunched(time.Duration)                   {}
func (nopObserver) InstanceLaunchFailed()                            {}
func (nopObserver) InstanceEvicted(EvictReason)                      {}
func (nopObserver) LeaseAcquired(time.Duration)                      {}
func (nopObserver) JobFinished(OutputKind, ErrorKind, time.Duration) {}

// Option configures a Pool or an Executor.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the event observer. Default: discard.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithTracer sets the tracer used for job spans. Default: the global
// OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// withClock overrides time.Now, for tests.
func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}
