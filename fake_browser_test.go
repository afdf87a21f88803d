package renderd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Compile-time interface check.
var _ Browser = (*fakeBrowser)(nil)

var (
	errFakeClosed = errors.New("fake: connection closed")
	fakePNG       = []byte("\x89PNG\r\n\x1a\n")
	fakePDF       = []byte("%PDF-1.7\n")
)

// fakeBrowser is an in-memory Browser. Its document is a plain string: HTML
// targets replace it verbatim, URL targets wrap the URL in a tiny page.
//
// hang* fields make an operation ignore its context and block until the
// browser is terminated, the way a wedged Chrome does.
type fakeBrowser struct {
	id int

	startErr      error
	startDelay    time.Duration
	navigateDelay time.Duration
	hangNavigate  bool
	hangCapture   bool
	hangReset     bool
	hangPing      bool
	navigateErr   error
	captureErr    error
	resetErr      error

	mu         sync.Mutex
	started    bool
	terminated bool
	document   string
	viewport   Viewport
	resets     int
	pingErr    error

	inUse       atomic.Int32
	violations  atomic.Int32
	navigations atomic.Int32
	captures    atomic.Int32
	killed      chan struct{}

	// captureStarted is closed when Capture first begins, if non-nil.
	captureStarted chan struct{}
	captureOnce    sync.Once
}

func newFakeBrowser(id int) *fakeBrowser {
	return &fakeBrowser{id: id, killed: make(chan struct{}), document: blankPage}
}

func (f *fakeBrowser) enter() func() {
	if f.inUse.Add(1) > 1 {
		f.violations.Add(1)
	}
	return func() { f.inUse.Add(-1) }
}

func (f *fakeBrowser) alive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated || !f.started {
		return errFakeClosed
	}
	return nil
}

func (f *fakeBrowser) Start(ctx context.Context) error {
	if f.startDelay > 0 {
		select {
		case <-time.After(f.startDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLaunch, ctx.Err())
		}
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated {
		return fmt.Errorf("%w: terminated during launch", ErrLaunch)
	}
	f.started = true
	return nil
}

func (f *fakeBrowser) SetViewport(ctx context.Context, vp Viewport) error {
	defer f.enter()()
	if err := f.alive(); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	f.mu.Lock()
	f.viewport = vp
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) Navigate(ctx context.Context, target Target) error {
	defer f.enter()()
	f.navigations.Add(1)
	if err := f.alive(); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	if f.hangNavigate {
		<-f.killed
		return fmt.Errorf("%w: %v", ErrNavigation, errFakeClosed)
	}
	if f.navigateErr != nil {
		return f.navigateErr
	}
	if f.navigateDelay > 0 {
		select {
		case <-time.After(f.navigateDelay):
		case <-ctx.Done():
			return classify(ctx, ctx.Err(), ErrNavigationTimeout, ErrNavigation)
		case <-f.killed:
			return fmt.Errorf("%w: %v", ErrNavigation, errFakeClosed)
		}
	}

	doc := target.HTML
	if target.URL != "" {
		doc = "<html><body>" + target.URL + "</body></html>"
	}
	f.mu.Lock()
	f.document = doc
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) Capture(ctx context.Context, kind OutputKind, opts CaptureOptions) ([]byte, error) {
	defer f.enter()()
	f.captures.Add(1)
	if f.captureStarted != nil {
		f.captureOnce.Do(func() { close(f.captureStarted) })
	}
	if err := f.alive(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	if f.hangCapture {
		<-f.killed
		return nil, fmt.Errorf("%w: %v", ErrCapture, errFakeClosed)
	}
	if f.captureErr != nil {
		return nil, f.captureErr
	}

	switch kind {
	case OutputScreenshot:
		return append([]byte(nil), fakePNG...), nil
	case OutputPDF:
		return append([]byte(nil), fakePDF...), nil
	default:
		f.mu.Lock()
		defer f.mu.Unlock()
		return []byte(f.document), nil
	}
}

func (f *fakeBrowser) Ping(ctx context.Context) error {
	if err := f.alive(); err != nil {
		return err
	}
	if f.hangPing {
		<-f.killed
		return errFakeClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeBrowser) Reset(ctx context.Context) error {
	defer f.enter()()
	if err := f.alive(); err != nil {
		return err
	}
	if f.hangReset {
		<-f.killed
		return errFakeClosed
	}
	if f.resetErr != nil {
		return f.resetErr
	}
	f.mu.Lock()
	f.document = blankPage
	f.viewport = Viewport{}
	f.resets++
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated {
		return
	}
	f.terminated = true
	close(f.killed)
}

func (f *fakeBrowser) PID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return 0
	}
	return 10000 + f.id
}

func (f *fakeBrowser) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeBrowser) snapshot() (doc string, resets int, terminated bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.document, f.resets, f.terminated
}

func (f *fakeBrowser) isTerminated() bool {
	_, _, terminated := f.snapshot()
	return terminated
}

// fakeFleet creates fakeBrowsers and remembers them for inspection.
type fakeFleet struct {
	mu        sync.Mutex
	browsers  []*fakeBrowser
	configure func(*fakeBrowser)
}

func (f *fakeFleet) factory() Browser {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := newFakeBrowser(len(f.browsers))
	if f.configure != nil {
		f.configure(b)
	}
	f.browsers = append(f.browsers, b)
	return b
}

func (f *fakeFleet) all() []*fakeBrowser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeBrowser(nil), f.browsers...)
}

// live counts browsers that started and were not terminated.
func (f *fakeFleet) live() int {
	n := 0
	for _, b := range f.all() {
		b.mu.Lock()
		if b.started && !b.terminated {
			n++
		}
		b.mu.Unlock()
	}
	return n
}

func (f *fakeFleet) violations() int32 {
	var n int32
	for _, b := range f.all() {
		n += b.violations.Load()
	}
	return n
}

// testPoolConfig returns a config with background maintenance disabled so
// tests drive probes and retirement explicitly.
func testPoolConfig(minSize, maxSize int) PoolConfig {
	return PoolConfig{
		MinSize:       minSize,
		MaxSize:       maxSize,
		ProbeTimeout:  100 * time.Millisecond,
		ProbeFailures: 2,
		ResetTimeout:  time.Second,
		LaunchTimeout: 2 * time.Second,
	}
}

// newTestPool creates and starts a pool over fleet, shutting it down on cleanup.
func newTestPool(t *testing.T, fleet *fakeFleet, cfg PoolConfig, opts ...Option) *Pool {
	t.Helper()

	pool, err := NewPool(fleet.factory, cfg, opts...)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
