package renderd

import (
	"sync"
	"time"
)

// Lease is exclusive use of one pooled browser. Exactly one of Release or
// Discard must be called when the job is done; later calls are no-ops.
type Lease struct {
	pool       *Pool
	inst       *instance
	acquiredAt time.Time
	once       sync.Once
}

// Browser returns the leased browser. It must not be used after the lease ends.
func (l *Lease) Browser() Browser {
	return l.inst.browser
}

// InstanceID identifies the leased browser in logs and response headers.
func (l *Lease) InstanceID() string {
	return l.inst.id
}

// AcquiredAt returns when the lease was granted.
func (l *Lease) AcquiredAt() time.Time {
	return l.acquiredAt
}

// Release returns the browser to the pool without waiting for its reset,
// which runs in the background. The pool evicts the browser instead when
// the reset fails, a health probe marked it unhealthy, or it reached
// MaxRequestsPerInstance.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.inst)
	})
}

// Discard terminates the browser without returning it to the pool. Used
// when the browser may be stuck mid-operation, such as after a timeout.
func (l *Lease) Discard(cause error) {
	l.once.Do(func() {
		l.pool.discard(l.inst, cause)
	})
}
