// Package metrics exposes pool and job events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alnah/go-renderd"
)

const namespace = "renderd"

// Outcome label for successful jobs.
const outcomeOK = "ok"

// Collector implements renderd.Observer on a private registry.
type Collector struct {
	registry *prometheus.Registry

	launches       *prometheus.CounterVec
	launchDuration prometheus.Histogram
	evictions      *prometheus.CounterVec
	acquireWait    prometheus.Histogram
	jobs           *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
}

var _ renderd.Observer = (*Collector)(nil)

// New creates a Collector with Go runtime and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "launches_total",
			Help:      "Browser launches by result.",
		}, []string{"result"}),
		launchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "launch_duration_seconds",
			Help:      "Time from launch to a ready browser.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "evictions_total",
			Help:      "Browsers removed from the pool by reason.",
		}, []string{"reason"}),
		acquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time jobs waited for a browser lease.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Render jobs by output kind and outcome.",
		}, []string{"kind", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end render job duration.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.launches, c.launchDuration, c.evictions, c.acquireWait, c.jobs, c.jobDuration,
	)
	return c
}

// RegisterPool exports pool occupancy as gauges read at scrape time.
func (c *Collector) RegisterPool(stats func() renderd.Stats) {
	gauge := func(name, help string, value func(renderd.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}

	c.registry.MustRegister(
		gauge("ready", "Idle browsers ready for a lease.", func(s renderd.Stats) float64 { return float64(s.Ready) }),
		gauge("busy", "Browsers currently leased.", func(s renderd.Stats) float64 { return float64(s.Busy) }),
		gauge("starting", "Browsers being launched.", func(s renderd.Stats) float64 { return float64(s.Starting) }),
		gauge("unhealthy", "Browsers marked unhealthy and awaiting eviction.", func(s renderd.Stats) float64 { return float64(s.Unhealthy) }),
		gauge("waiting", "Callers blocked in Acquire.", func(s renderd.Stats) float64 { return float64(s.Waiting) }),
		gauge("max_size", "Configured pool ceiling.", func(s renderd.Stats) float64 { return float64(s.MaxSize) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) InstanceLaunched(d time.Duration) {
	c.launches.WithLabelValues("ok").Inc()
	c.launchDuration.Observe(d.Seconds())
}

func (c *Collector) InstanceLaunchFailed() {
	c.launches.WithLabelValues("error").Inc()
}

func (c *Collector) InstanceEvicted(reason renderd.EvictReason) {
	c.evictions.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) LeaseAcquired(wait time.Duration) {
	c.acquireWait.Observe(wait.Seconds())
}

func (c *Collector) JobFinished(kind renderd.OutputKind, errKind renderd.ErrorKind, d time.Duration) {
	outcome := outcomeOK
	if errKind != "" {
		outcome = string(errKind)
	}
	c.jobs.WithLabelValues(string(kind), outcome).Inc()
	c.jobDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}
