package renderd

import (
	"context"
)

// Target is what a Browser loads: a URL or an HTML document, never both.
type Target struct {
	URL  string
	HTML string
}

// CaptureOptions carries the per-kind options for Capture.
type CaptureOptions struct {
	Screenshot *ScreenshotOptions
	PDF        *PDFOptions
}

// Browser owns one external browser process and one page inside it.
//
// Every blocking method takes a context; implementations must return once
// the context is done. Terminate is the exception: it is best-effort, never
// fails from the caller's view and may be called any number of times.
type Browser interface {
	// Start launches the process. Fails with ErrLaunch when the binary is
	// missing or the DevTools endpoint is not up before ctx is done.
	Start(ctx context.Context) error

	// SetViewport overrides the page's device metrics until the next Reset.
	SetViewport(ctx context.Context, vp Viewport) error

	// Navigate loads the target and waits for the load event. Fails with
	// ErrNavigationTimeout when ctx expires first, ErrNavigation otherwise.
	Navigate(ctx context.Context, target Target) error

	// Capture returns the artifact for the current page state.
	// Fails with ErrCapture (ErrCaptureTimeout when ctx expires).
	Capture(ctx context.Context, kind OutputKind, opts CaptureOptions) ([]byte, error)

	// Ping is the liveness probe over the control channel.
	Ping(ctx context.Context) error

	// Reset returns the page to a blank state so the next job sees nothing
	// of the previous one.
	Reset(ctx context.Context) error

	// Terminate kills the process and releases its resources.
	Terminate()

	// PID returns the OS process id, or 0 before Start.
	PID() int
}

// BrowserFactory creates unstarted Browser values for the pool.
type BrowserFactory func() Browser
