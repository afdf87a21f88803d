package renderd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/alnah/go-renderd/internal/process"
)

// Compile-time interface check.
var _ Browser = (*rodBrowser)(nil)

// DefaultLaunchTimeout bounds how long a browser has to expose DevTools.
const DefaultLaunchTimeout = 20 * time.Second

const (
	closeTimeout   = 2 * time.Second
	cleanupTimeout = 5 * time.Second
	blankPage      = "about:blank"
)

// DefaultChromeFlags are applied to every launched browser. They keep Chrome
// usable inside containers with a small /dev/shm and no GPU.
var DefaultChromeFlags = []string{
	"disable-dev-shm-usage",
	"disable-gpu",
	"no-first-run",
	"no-zygote",
	"disable-extensions",
	"disable-background-timer-throttling",
	"disable-backgrounding-occluded-windows",
	"disable-renderer-backgrounding",
	"hide-scrollbars",
	"mute-audio",
}

// RodOptions configures browsers created by NewRodFactory.
type RodOptions struct {
	Bin           string        // browser binary (empty = ROD_BROWSER_BIN, then PATH lookup)
	NoSandbox     bool          // required when running as root in containers
	LaunchTimeout time.Duration // 0 = DefaultLaunchTimeout
	Flags         []string      // extra flags, "name" or "name=value"
}

// NewRodFactory returns a BrowserFactory producing headless Chrome instances
// driven through go-rod.
func NewRodFactory(opts RodOptions) BrowserFactory {
	return func() Browser {
		return &rodBrowser{opts: opts}
	}
}

// ResolveBrowserBin returns the browser binary rod will use, and whether one
// was found. Explicit bin wins over ROD_BROWSER_BIN, which wins over PATH.
func ResolveBrowserBin(bin string) (string, bool) {
	if bin != "" {
		return bin, true
	}
	if env := os.Getenv("ROD_BROWSER_BIN"); env != "" {
		return env, true
	}
	return launcher.LookPath()
}

// rodBrowser is a Browser backed by a go-rod launcher and a single page.
type rodBrowser struct {
	opts RodOptions

	mu         sync.Mutex
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	pid        int
	terminated bool
}

func (r *rodBrowser) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.launcher != nil || r.terminated {
		r.mu.Unlock()
		return fmt.Errorf("%w: browser already started", ErrLaunch)
	}
	l := r.newLauncher()
	r.launcher = l
	r.mu.Unlock()

	timeout := r.opts.LaunchTimeout
	if timeout <= 0 {
		timeout = DefaultLaunchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := launch(ctx, l)

	// Record the pid before connecting so Terminate can reap the process
	// group and profile directory if any later step fails.
	r.mu.Lock()
	r.pid = l.PID()
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	b := rod.New().Context(ctx).ControlURL(u)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("%w: connecting: %v", ErrLaunch, err)
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: blankPage})
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("%w: creating page: %v", ErrLaunch, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		// Terminate raced with Start; it could not see the connection yet.
		_ = b.Close()
		return fmt.Errorf("%w: terminated during launch", ErrLaunch)
	}
	r.browser = b.Context(context.Background())
	r.page = page.Context(context.Background())
	return nil
}

// newLauncher builds the launcher for this browser's options.
func (r *rodBrowser) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(true)
	if bin, ok := ResolveBrowserBin(r.opts.Bin); ok {
		l = l.Bin(bin)
	}
	if r.opts.NoSandbox || os.Getenv("CI") == "true" {
		l = l.NoSandbox(true)
	}
	for _, f := range DefaultChromeFlags {
		l = l.Set(flags.Flag(f))
	}
	for _, f := range r.opts.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// launch runs l.Launch and gives up when ctx is done, killing whatever
// process was started so far.
func launch(ctx context.Context, l *launcher.Launcher) (string, error) {
	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		u, err := l.Launch()
		done <- result{u, err}
	}()

	select {
	case res := <-done:
		return res.url, res.err
	case <-ctx.Done():
		l.Kill()
		return "", ctx.Err()
	}
}

func (r *rodBrowser) SetViewport(ctx context.Context, vp Viewport) error {
	page, err := r.currentPage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	err = page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return classify(ctx, err, ErrNavigationTimeout, ErrNavigation)
	}
	return nil
}

func (r *rodBrowser) Navigate(ctx context.Context, target Target) error {
	page, err := r.currentPage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	p := page.Context(ctx)

	if target.URL != "" {
		err = p.Navigate(target.URL)
	} else {
		err = p.SetDocumentContent(target.HTML)
	}
	if err == nil {
		err = p.WaitLoad()
	}
	if err != nil {
		return classify(ctx, err, ErrNavigationTimeout, ErrNavigation)
	}
	return nil
}

func (r *rodBrowser) Capture(ctx context.Context, kind OutputKind, opts CaptureOptions) ([]byte, error) {
	page, err := r.currentPage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	p := page.Context(ctx)

	var data []byte
	switch kind {
	case OutputScreenshot:
		full := opts.Screenshot != nil && opts.Screenshot.FullPage
		data, err = p.Screenshot(full, buildScreenshotRequest(opts.Screenshot))
	case OutputPDF:
		var reader *rod.StreamReader
		reader, err = p.PDF(buildPDFRequest(opts.PDF))
		if err == nil {
			data, err = io.ReadAll(reader)
		}
	case OutputHTML:
		var markup string
		markup, err = p.HTML()
		data = []byte(markup)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrCapture, kind)
	}
	if err != nil {
		return nil, classify(ctx, err, ErrCaptureTimeout, ErrCapture)
	}
	return data, nil
}

// buildScreenshotRequest maps ScreenshotOptions onto the CDP request.
func buildScreenshotRequest(opts *ScreenshotOptions) *proto.PageCaptureScreenshot {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if opts == nil {
		return req
	}
	switch strings.ToLower(opts.Format) {
	case FormatJPEG:
		req.Format = proto.PageCaptureScreenshotFormatJpeg
	case FormatWebP:
		req.Format = proto.PageCaptureScreenshotFormatWebp
	}
	if opts.Quality > 0 {
		q := opts.Quality
		req.Quality = &q
	}
	return req
}

// buildPDFRequest maps PDFOptions onto the CDP request.
// CSS @page rules take precedence over the requested paper size.
func buildPDFRequest(opts *PDFOptions) *proto.PagePrintToPDF {
	if opts == nil {
		opts = DefaultPDFOptions()
	}
	width, height, margin := opts.dimensions()
	return &proto.PagePrintToPDF{
		PaperWidth:        floatPtr(width),
		PaperHeight:       floatPtr(height),
		MarginTop:         floatPtr(margin),
		MarginBottom:      floatPtr(margin),
		MarginLeft:        floatPtr(margin),
		MarginRight:       floatPtr(margin),
		PrintBackground:   opts.PrintBackground,
		PreferCSSPageSize: true,
	}
}

func (r *rodBrowser) Ping(ctx context.Context) error {
	r.mu.Lock()
	b, pid := r.browser, r.pid
	r.mu.Unlock()

	if b == nil {
		return errors.New("browser not running")
	}
	if !process.Alive(pid) {
		return fmt.Errorf("browser process %d is gone", pid)
	}
	if _, err := (proto.BrowserGetVersion{}).Call(b.Context(ctx)); err != nil {
		return fmt.Errorf("control channel: %w", err)
	}
	return nil
}

func (r *rodBrowser) Reset(ctx context.Context) error {
	page, err := r.currentPage()
	if err != nil {
		return err
	}
	p := page.Context(ctx)

	if err := p.Navigate(blankPage); err != nil {
		return fmt.Errorf("navigating to blank page: %w", err)
	}
	if err := (proto.EmulationClearDeviceMetricsOverride{}).Call(p); err != nil {
		return fmt.Errorf("clearing viewport: %w", err)
	}
	if err := (proto.NetworkClearBrowserCookies{}).Call(p); err != nil {
		return fmt.Errorf("clearing cookies: %w", err)
	}
	return nil
}

// Terminate closes the browser, kills its process group and removes the
// temporary profile directory. Safe to call repeatedly and concurrently.
func (r *rodBrowser) Terminate() {
	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return
	}
	r.terminated = true
	b, l, pid := r.browser, r.launcher, r.pid
	r.browser, r.page = nil, nil
	r.mu.Unlock()

	if b != nil {
		_ = b.Timeout(closeTimeout).Close()
	}
	if pid > 0 {
		process.KillProcessGroup(pid)
	}
	if l == nil {
		return
	}
	l.Kill()
	if pid > 0 {
		// Cleanup waits for the process to exit; do not hang on a zombie.
		done := make(chan struct{})
		go func() {
			l.Cleanup()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(cleanupTimeout):
		}
	}
}

func (r *rodBrowser) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

func (r *rodBrowser) currentPage() (*rod.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.page == nil {
		return nil, errors.New("browser not running")
	}
	return r.page, nil
}

// classify wraps a browser error as a timeout when ctx expired, and as the
// generic sentinel otherwise. Caller cancellation is returned unwrapped.
func classify(ctx context.Context, err, timeout, generic error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", timeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %v", generic, err)
	}
}

// floatPtr returns a pointer to a float64 value.
func floatPtr(v float64) *float64 {
	return &v
}
