package renderd

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool sizing constants.
const (
	// MinPoolSize ensures at least one browser can be launched.
	MinPoolSize = 1

	// MaxPoolSize caps auto-sized pools to limit memory (~200MB per browser).
	MaxPoolSize = 8

	// cpuDivisor leaves headroom for Chrome child processes.
	cpuDivisor = 2
)

// Pool defaults.
const (
	DefaultMaxRequestsPerInstance = 100
	DefaultIdleTimeout            = 5 * time.Minute
	DefaultProbeInterval          = 10 * time.Second
	DefaultProbeTimeout           = 2 * time.Second
	DefaultProbeFailures          = 2
	DefaultResetTimeout           = 5 * time.Second

	maxProbeConcurrency = 8
	launchBackoffBase   = 100 * time.Millisecond
	launchBackoffMax    = 5 * time.Second
)

// PoolConfig sizes the pool and tunes its maintenance.
type PoolConfig struct {
	MinSize                int           // browsers kept warm (0 allowed)
	MaxSize                int           // hard cap on live browsers (0 = ResolvePoolSize(0))
	MaxRequestsPerInstance int           // recycle after this many leases (0 = never)
	IdleTimeout            time.Duration // retire idle browsers above MinSize (0 = never)
	ProbeInterval          time.Duration // health probe period (0 = no background loop)
	ProbeTimeout           time.Duration // per-probe deadline
	ProbeFailures          int           // consecutive failures before eviction
	ResetTimeout           time.Duration // deadline for the between-lease reset
	LaunchTimeout          time.Duration // deadline for background launches
}

// DefaultPoolConfig returns the configuration used by the server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:                MinPoolSize,
		MaxSize:                ResolvePoolSize(0),
		MaxRequestsPerInstance: DefaultMaxRequestsPerInstance,
		IdleTimeout:            DefaultIdleTimeout,
		ProbeInterval:          DefaultProbeInterval,
		ProbeTimeout:           DefaultProbeTimeout,
		ProbeFailures:          DefaultProbeFailures,
		ResetTimeout:           DefaultResetTimeout,
		LaunchTimeout:          DefaultLaunchTimeout,
	}
}

// Validate checks the configuration for contradictions.
func (c PoolConfig) Validate() error {
	if c.MinSize < 0 {
		return fmt.Errorf("min pool size cannot be negative: %d", c.MinSize)
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("max pool size cannot be negative: %d", c.MaxSize)
	}
	if c.MaxSize > 0 && c.MinSize > c.MaxSize {
		return fmt.Errorf("min pool size %d exceeds max pool size %d", c.MinSize, c.MaxSize)
	}
	if c.MaxRequestsPerInstance < 0 {
		return fmt.Errorf("max requests per instance cannot be negative: %d", c.MaxRequestsPerInstance)
	}
	return nil
}

// withDefaults fills zero values that have no "disabled" meaning.
func (c PoolConfig) withDefaults() PoolConfig {
	c.MaxSize = ResolvePoolSize(c.MaxSize)
	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ProbeFailures <= 0 {
		c.ProbeFailures = DefaultProbeFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = DefaultLaunchTimeout
	}
	return c
}

// Pool keeps between MinSize and MaxSize browsers alive and hands them out
// exclusively through leases. Browsers are launched on demand when every
// live one is busy, probed in the background, and recycled after
// MaxRequestsPerInstance leases or IdleTimeout of inactivity.
type Pool struct {
	cfg     PoolConfig
	factory BrowserFactory
	log     *zap.Logger
	obs     Observer
	now     func() time.Time

	// ctx is canceled by Shutdown to stop launches and the health loop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	instances      map[string]*instance
	ready          []*instance // idle browsers, most recently used last
	starting       int
	leased         int
	waiting        int
	launchFailures int
	changed        chan struct{} // closed and replaced on every state change
	started        bool
	closed         bool
	finalized      bool // Shutdown is waiting on wg; no new goroutines
	launched       int64
	evicted        int64
	served         int64
}

// NewPool creates a pool. No browser is launched until Start or the first
// Acquire.
func NewPool(factory BrowserFactory, cfg PoolConfig, opts ...Option) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("browser factory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:       cfg.withDefaults(),
		factory:   factory,
		log:       o.logger.Named("pool"),
		obs:       o.observer,
		now:       o.now,
		ctx:       ctx,
		cancel:    cancel,
		instances: make(map[string]*instance),
		changed:   make(chan struct{}),
	}, nil
}

// Config returns the effective configuration.
func (p *Pool) Config() PoolConfig {
	return p.cfg
}

// Start launches MinSize browsers concurrently and starts the health loop.
// It returns an error wrapping ErrLaunch only when MinSize > 0 and every
// warm-up launch failed; partial failures are replenished in the background.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	warm := make([]*instance, 0, p.cfg.MinSize)
	for len(p.instances) < p.cfg.MinSize {
		warm = append(warm, p.newInstanceLocked())
	}
	if p.cfg.ProbeInterval > 0 && p.trackLocked() {
		go p.healthLoop()
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, inst := range warm {
		g.Go(func() error {
			return p.startInstance(ctx, inst)
		})
	}
	err := g.Wait()
	if err == nil {
		p.log.Info("pool started", zap.Int("warm", len(warm)), zap.Int("max", p.cfg.MaxSize))
		return nil
	}
	if p.Stats().Ready == 0 {
		return fmt.Errorf("warming pool: %w", err)
	}
	p.log.Warn("pool started with fewer browsers than requested", zap.Error(err))
	return nil
}

// Acquire waits for a ready browser and leases it exclusively to the caller.
// When none is ready and the pool is below MaxSize, a launch is started in
// the background; the caller still takes whichever browser frees up first.
//
// Returns ErrPoolExhausted when ctx expires first, ErrPoolClosed after
// Shutdown, and ctx.Err() when the caller cancels.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	start := p.now()

	p.mu.Lock()
	p.waiting++
	for {
		if p.closed {
			p.waiting--
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if inst := p.popReadyLocked(); inst != nil {
			p.waiting--
			inst.state = StateBusy
			inst.leased = true
			p.leased++
			p.mu.Unlock()

			wait := p.now().Sub(start)
			p.obs.LeaseAcquired(wait)
			return &Lease{pool: p, inst: inst, acquiredAt: start.Add(wait)}, nil
		}
		if len(p.instances) < p.cfg.MaxSize && p.starting < p.waiting {
			p.spawnLocked()
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: waited %s", ErrPoolExhausted, p.now().Sub(start).Round(time.Millisecond))
		}
		p.mu.Lock()
	}
}

// Probe pings every ready or busy browser once. A browser failing
// ProbeFailures consecutive probes is marked unhealthy: an idle one is
// evicted immediately, a leased one when its lease ends.
func (p *Pool) Probe(ctx context.Context) {
	p.mu.Lock()
	targets := make([]*instance, 0, len(p.instances))
	for _, inst := range p.instances {
		if inst.state == StateReady || inst.state == StateBusy {
			targets = append(targets, inst)
		}
	}
	p.mu.Unlock()

	results := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(maxProbeConcurrency)
	for i, inst := range targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
			defer cancel()
			results[i] = inst.browser.Ping(pctx)
			return nil
		})
	}
	_ = g.Wait()

	var evict []*instance
	p.mu.Lock()
	for i, inst := range targets {
		if _, ok := p.instances[inst.id]; !ok || inst.state == StateTerminated {
			continue
		}
		if results[i] == nil {
			inst.probeFailures = 0
			continue
		}
		inst.probeFailures++
		p.log.Debug("probe failed",
			zap.String("instance", inst.id),
			zap.Int("failures", inst.probeFailures),
			zap.Error(results[i]))
		if inst.probeFailures < p.cfg.ProbeFailures || inst.state == StateUnhealthy {
			continue
		}
		inst.state = StateUnhealthy
		p.removeReadyLocked(inst)
		if !inst.leased {
			evict = append(evict, inst)
		}
	}
	p.mu.Unlock()

	for _, inst := range evict {
		p.evict(inst, EvictProbeFailed)
	}
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Total:    len(p.instances),
		Waiting:  p.waiting,
		MinSize:  p.cfg.MinSize,
		MaxSize:  p.cfg.MaxSize,
		Launched: p.launched,
		Evicted:  p.evicted,
		Served:   p.served,
		Closed:   p.closed,
	}
	for _, inst := range p.instances {
		switch {
		case inst.state == StateStarting:
			s.Starting++
		case inst.state == StateUnhealthy:
			s.Unhealthy++
		case inst.leased:
			s.Busy++
		case inst.state == StateReady:
			s.Ready++
		}
	}
	return s
}

// Instances returns a snapshot of every live browser, oldest first.
func (p *Pool) Instances() []InstanceInfo {
	p.mu.Lock()
	insts := make([]*instance, 0, len(p.instances))
	for _, inst := range p.instances {
		insts = append(insts, inst)
	}
	now := p.now()
	infos := make([]InstanceInfo, 0, len(insts))
	slices.SortFunc(insts, func(a, b *instance) int {
		return a.createdAt.Compare(b.createdAt)
	})
	for _, inst := range insts {
		info := InstanceInfo{
			ID:     inst.id,
			State:  inst.state.String(),
			Served: inst.served,
			Age:    now.Sub(inst.createdAt),
		}
		if inst.state == StateReady && !inst.leased {
			info.IdleSince = inst.lastUsed
		}
		infos = append(infos, info)
	}
	p.mu.Unlock()

	// PID takes the browser's own lock; read it outside ours.
	for i, inst := range insts {
		infos[i].PID = inst.browser.PID()
	}
	return infos
}

// Shutdown stops handing out leases, waits for outstanding leases to end
// (or ctx to expire), then terminates every browser. Safe to call more
// than once; later calls return nil immediately.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.broadcastLocked()
	p.mu.Unlock()
	p.log.Info("pool shutting down")

	drainErr := p.drain(ctx)
	p.cancel()

	p.mu.Lock()
	all := make([]*instance, 0, len(p.instances))
	for _, inst := range p.instances {
		inst.state = StateTerminated
		all = append(all, inst)
	}
	clear(p.instances)
	p.ready = nil
	p.evicted += int64(len(all))
	p.finalized = true
	p.broadcastLocked()
	p.mu.Unlock()

	var g errgroup.Group
	for _, inst := range all {
		g.Go(func() error {
			inst.browser.Terminate()
			p.obs.InstanceEvicted(EvictShutdown)
			return nil
		})
	}
	_ = g.Wait()
	p.wg.Wait()

	p.log.Info("pool stopped", zap.Int("terminated", len(all)))
	if drainErr != nil {
		return fmt.Errorf("draining leases: %w", drainErr)
	}
	return nil
}

// drain blocks until no lease is outstanding or ctx is done.
func (p *Pool) drain(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.leased == 0 {
			p.mu.Unlock()
			return nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// release ends a lease. Unhealthy or worn out browsers are evicted at once;
// the rest are reset in the background and rejoin the ready set afterwards.
// The browser stays leased, and so busy, until the reset is done.
func (p *Pool) release(inst *instance) {
	p.mu.Lock()
	inst.served++
	p.served++
	reason := EvictReason("")
	switch {
	case p.closed:
		reason = EvictShutdown
	case inst.state == StateUnhealthy:
		reason = EvictProbeFailed
	case p.cfg.MaxRequestsPerInstance > 0 && inst.served >= p.cfg.MaxRequestsPerInstance:
		reason = EvictMaxRequests
	}
	if reason != "" {
		p.endLeaseLocked(inst)
		p.mu.Unlock()
		p.evict(inst, reason)
		return
	}
	async := p.trackLocked()
	p.mu.Unlock()

	if async {
		go func() {
			defer p.wg.Done()
			p.reset(inst)
		}()
	} else {
		p.reset(inst)
	}
}

// reset clears inst after a job and returns it to the ready set, or evicts
// it when the reset fails or does not finish within ResetTimeout.
func (p *Pool) reset(inst *instance) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.ResetTimeout)
	_, err := runBounded(ctx, func(c context.Context) (struct{}, error) {
		return struct{}{}, inst.browser.Reset(c)
	})
	cancel()

	p.mu.Lock()
	p.endLeaseLocked(inst)
	reason := EvictReason("")
	switch {
	case err != nil:
		reason = EvictResetFailed
		p.log.Warn("reset failed", zap.String("instance", inst.id), zap.Error(err))
	case p.closed:
		reason = EvictShutdown
	case inst.state == StateUnhealthy:
		reason = EvictProbeFailed
	}
	if reason != "" {
		p.mu.Unlock()
		p.evict(inst, reason)
		return
	}
	inst.state = StateReady
	inst.lastUsed = p.now()
	p.ready = append(p.ready, inst)
	p.broadcastLocked()
	p.mu.Unlock()
}

// discard ends a lease and evicts the browser without reusing it.
func (p *Pool) discard(inst *instance, cause error) {
	p.mu.Lock()
	inst.served++
	p.served++
	p.endLeaseLocked(inst)
	p.mu.Unlock()

	p.log.Info("discarding browser", zap.String("instance", inst.id), zap.Error(cause))
	p.evict(inst, EvictDiscarded)
}

// evict removes inst from the pool, terminates it, and tops the pool back
// up to MinSize. Evicting an instance twice is a no-op.
func (p *Pool) evict(inst *instance, reason EvictReason) {
	p.mu.Lock()
	if cur, ok := p.instances[inst.id]; !ok || cur != inst {
		p.mu.Unlock()
		return
	}
	delete(p.instances, inst.id)
	p.removeReadyLocked(inst)
	inst.state = StateTerminated
	p.evicted++
	p.broadcastLocked()
	async := p.trackLocked()
	p.mu.Unlock()

	p.obs.InstanceEvicted(reason)
	p.log.Info("browser evicted",
		zap.String("instance", inst.id),
		zap.String("reason", string(reason)),
		zap.Int("served", inst.served))

	if async {
		go func() {
			defer p.wg.Done()
			inst.browser.Terminate()
		}()
	} else {
		inst.browser.Terminate()
	}
	p.replenish()
}

// replenish launches browsers until MinSize are live or launching.
func (p *Pool) replenish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for len(p.instances) < p.cfg.MinSize {
		p.spawnLocked()
	}
}

// retireIdle evicts ready browsers unused for IdleTimeout while the pool
// is above MinSize. The least recently used go first.
func (p *Pool) retireIdle() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	now := p.now()

	var retire []*instance
	p.mu.Lock()
	live := len(p.instances)
	for _, inst := range p.ready {
		if live <= p.cfg.MinSize {
			break
		}
		if now.Sub(inst.lastUsed) >= p.cfg.IdleTimeout {
			retire = append(retire, inst)
			live--
		}
	}
	p.mu.Unlock()

	for _, inst := range retire {
		p.evict(inst, EvictIdle)
	}
}

// healthLoop probes, retires idle browsers, and replenishes on every tick
// until the pool shuts down.
func (p *Pool) healthLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Probe(p.ctx)
			p.retireIdle()
			p.replenish()
		}
	}
}

// spawnLocked registers a new starting instance and launches it in the
// background, after a backoff delay when recent launches failed.
func (p *Pool) spawnLocked() {
	if !p.trackLocked() {
		return
	}
	inst := p.newInstanceLocked()
	delay := p.launchBackoffLocked()
	go func() {
		defer p.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-p.ctx.Done():
			}
		}
		_ = p.startInstance(p.ctx, inst)
	}()
}

// newInstanceLocked registers an instance in the starting state.
func (p *Pool) newInstanceLocked() *instance {
	inst := &instance{
		id:        uuid.NewString(),
		browser:   p.factory(),
		createdAt: p.now(),
		state:     StateStarting,
	}
	p.instances[inst.id] = inst
	p.starting++
	return inst
}

// startInstance launches inst and moves it to ready, or drops it on failure.
func (p *Pool) startInstance(ctx context.Context, inst *instance) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LaunchTimeout)
	defer cancel()

	start := p.now()
	err := inst.browser.Start(ctx)
	elapsed := p.now().Sub(start)

	p.mu.Lock()
	p.starting--
	if err == nil && (p.closed || inst.state != StateStarting) {
		err = ErrPoolClosed
	}
	if err != nil {
		if cur, ok := p.instances[inst.id]; ok && cur == inst {
			delete(p.instances, inst.id)
		}
		inst.state = StateTerminated
		if !errors.Is(err, ErrPoolClosed) {
			p.launchFailures++
		}
		p.broadcastLocked()
		p.mu.Unlock()

		inst.browser.Terminate()
		if errors.Is(err, ErrPoolClosed) {
			return err
		}
		p.obs.InstanceLaunchFailed()
		p.log.Warn("browser launch failed", zap.String("instance", inst.id), zap.Error(err))
		p.replenish()
		return err
	}
	p.launchFailures = 0
	p.launched++
	inst.state = StateReady
	inst.lastUsed = p.now()
	p.ready = append(p.ready, inst)
	p.broadcastLocked()
	p.mu.Unlock()

	p.obs.InstanceLaunched(elapsed)
	p.log.Info("browser launched",
		zap.String("instance", inst.id),
		zap.Int("pid", inst.browser.PID()),
		zap.Duration("took", elapsed))
	return nil
}

// launchBackoffLocked returns the delay before the next launch: zero after
// a success, doubling from launchBackoffBase per consecutive failure.
func (p *Pool) launchBackoffLocked() time.Duration {
	if p.launchFailures == 0 {
		return 0
	}
	d := launchBackoffBase
	for i := 1; i < p.launchFailures && d < launchBackoffMax; i++ {
		d *= 2
	}
	return min(d, launchBackoffMax)
}

// popReadyLocked takes the most recently used ready browser, if any.
// Recently used browsers are preferred so idle ones can age out.
func (p *Pool) popReadyLocked() *instance {
	for len(p.ready) > 0 {
		last := len(p.ready) - 1
		inst := p.ready[last]
		p.ready[last] = nil
		p.ready = p.ready[:last]
		if inst.state == StateReady && !inst.leased {
			return inst
		}
	}
	return nil
}

func (p *Pool) removeReadyLocked(inst *instance) {
	p.ready = slices.DeleteFunc(p.ready, func(r *instance) bool { return r == inst })
}

func (p *Pool) endLeaseLocked(inst *instance) {
	if !inst.leased {
		return
	}
	inst.leased = false
	p.leased--
	p.broadcastLocked()
}

// broadcastLocked wakes every goroutine waiting on a state change.
func (p *Pool) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// trackLocked registers a background goroutine with wg. It returns false
// once Shutdown is waiting on wg, in which case the caller must do the
// work inline.
func (p *Pool) trackLocked() bool {
	if p.finalized {
		return false
	}
	p.wg.Add(1)
	return true
}

// ResolvePoolSize determines the maximum pool size.
// Priority: explicit size > GOMAXPROCS-based calculation.
func ResolvePoolSize(size int) int {
	if size > 0 {
		return size
	}

	// GOMAXPROCS is adjusted by automaxprocs for containers.
	n := runtime.GOMAXPROCS(0) / cpuDivisor

	if n < MinPoolSize {
		return MinPoolSize
	}
	if n > MaxPoolSize {
		return MaxPoolSize
	}
	return n
}
