package renderd

import "time"

// InstanceState is the lifecycle state of a pooled browser.
type InstanceState int

// Instance states. Transitions:
//
//	starting -> ready <-> busy
//	ready|busy -> unhealthy -> terminated
//	starting|ready|busy -> terminated
const (
	StateStarting InstanceState = iota
	StateReady
	StateBusy
	StateUnhealthy
	StateTerminated
)

func (s InstanceState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateUnhealthy:
		return "unhealthy"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EvictReason says why an instance left the pool.
type EvictReason string

// Eviction reasons reported to the Observer.
const (
	EvictProbeFailed EvictReason = "probe_failed"
	EvictMaxRequests EvictReason = "max_requests"
	EvictIdle        EvictReason = "idle"
	EvictResetFailed EvictReason = "reset_failed"
	EvictDiscarded   EvictReason = "discarded"
	EvictShutdown    EvictReason = "shutdown"
)

// instance is one pooled browser plus the bookkeeping the pool keeps for it.
// All fields except id, browser and createdAt are guarded by Pool.mu.
type instance struct {
	id        string
	browser   Browser
	createdAt time.Time

	state         InstanceState
	leased        bool
	served        int
	probeFailures int
	lastUsed      time.Time
}

// InstanceInfo is a point-in-time view of one pooled browser.
type InstanceInfo struct {
	ID        string        `json:"id"`
	State     string        `json:"state"`
	PID       int           `json:"pid"`
	Served    int           `json:"served"`
	Age       time.Duration `json:"age"`
	IdleSince time.Time     `json:"idleSince,omitzero"`
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Starting  int   `json:"starting"`
	Ready     int   `json:"ready"`
	Busy      int   `json:"busy"`
	Unhealthy int   `json:"unhealthy"`
	Total     int   `json:"total"`
	Waiting   int   `json:"waiting"`
	MinSize   int   `json:"minSize"`
	MaxSize   int   `json:"maxSize"`
	Launched  int64 `json:"launched"`
	Evicted   int64 `json:"evicted"`
	Served    int64 `json:"served"`
	Closed    bool  `json:"closed"`
}
