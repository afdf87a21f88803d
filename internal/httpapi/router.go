// Package httpapi is the HTTP boundary of the rendering service: it turns
// requests into render jobs and results or errors back into responses.
package httpapi

import (
	"context"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alnah/go-renderd"
)

// DefaultMaxBodyBytes bounds POST /render bodies when Deps leaves it unset.
const DefaultMaxBodyBytes = 10 << 20

// Renderer executes render jobs. *renderd.Executor implements it.
type Renderer interface {
	Execute(ctx context.Context, job renderd.Job) (*renderd.Result, error)
}

// PoolStatus reports pool occupancy. *renderd.Pool implements it.
type PoolStatus interface {
	Stats() renderd.Stats
}

// RateLimit configures the token bucket on /render. RPS 0 disables it.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Deps wires the router.
type Deps struct {
	Renderer     Renderer
	Pool         PoolStatus
	Metrics      http.Handler // nil = no /metrics route
	Logger       *zap.Logger
	MaxBodyBytes int64
	RateLimit    RateLimit
}

// NewRouter returns the service's HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &handler{
		renderer: d.Renderer,
		pool:     d.Pool,
		maxBody:  d.MaxBodyBytes,
		log:      d.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(d.Logger.Named("http")))
	r.Use(recoverer(d.Logger.Named("http")))

	r.Get("/health", h.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		if d.RateLimit.RPS > 0 {
			r.Use(rateLimit(newLimiter(d.RateLimit)))
		}
		r.Post("/render", h.render)
	})

	return r
}

func newLimiter(rl RateLimit) *rate.Limiter {
	burst := rl.Burst
	if burst <= 0 {
		burst = int(math.Ceil(rl.RPS))
	}
	return rate.NewLimiter(rate.Limit(rl.RPS), burst)
}
