package renderd

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// ---------------------------------------------------------------------------
// TestBuildScreenshotRequest - CDP Screenshot Parameters
// ---------------------------------------------------------------------------

func TestBuildScreenshotRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		opts        *ScreenshotOptions
		wantFormat  proto.PageCaptureScreenshotFormat
		wantQuality int // 0 = unset
	}{
		{"nil is png", nil, proto.PageCaptureScreenshotFormatPng, 0},
		{"explicit png", &ScreenshotOptions{Format: FormatPNG}, proto.PageCaptureScreenshotFormatPng, 0},
		{"jpeg with quality", &ScreenshotOptions{Format: FormatJPEG, Quality: 70}, proto.PageCaptureScreenshotFormatJpeg, 70},
		{"webp uppercase", &ScreenshotOptions{Format: "WEBP"}, proto.PageCaptureScreenshotFormatWebp, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := buildScreenshotRequest(tt.opts)
			if req.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", req.Format, tt.wantFormat)
			}
			switch {
			case tt.wantQuality == 0 && req.Quality != nil:
				t.Errorf("Quality = %d, want unset", *req.Quality)
			case tt.wantQuality != 0 && (req.Quality == nil || *req.Quality != tt.wantQuality):
				t.Errorf("Quality = %v, want %d", req.Quality, tt.wantQuality)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestBuildPDFRequest - CDP Print Parameters
// ---------------------------------------------------------------------------

func TestBuildPDFRequest(t *testing.T) {
	t.Parallel()

	t.Run("nil opts uses a4 defaults", func(t *testing.T) {
		t.Parallel()

		req := buildPDFRequest(nil)
		if *req.PaperWidth != 8.27 || *req.PaperHeight != 11.69 {
			t.Errorf("paper = %vx%v, want 8.27x11.69", *req.PaperWidth, *req.PaperHeight)
		}
		if *req.MarginTop != DefaultMargin || *req.MarginLeft != DefaultMargin {
			t.Errorf("margins = %v/%v, want %v", *req.MarginTop, *req.MarginLeft, DefaultMargin)
		}
		if !req.PrintBackground {
			t.Error("expected print background by default")
		}
		if !req.PreferCSSPageSize {
			t.Error("expected CSS @page size to win")
		}
	})

	t.Run("letter landscape custom margin", func(t *testing.T) {
		t.Parallel()

		req := buildPDFRequest(&PDFOptions{Paper: PaperLetter, Landscape: true, Margin: 1})
		if *req.PaperWidth != 11 || *req.PaperHeight != 8.5 {
			t.Errorf("paper = %vx%v, want 11x8.5", *req.PaperWidth, *req.PaperHeight)
		}
		if *req.MarginBottom != 1 || *req.MarginRight != 1 {
			t.Errorf("margins = %v/%v, want 1", *req.MarginBottom, *req.MarginRight)
		}
		if req.PrintBackground {
			t.Error("explicit options without PrintBackground must not print backgrounds")
		}
	})
}

// ---------------------------------------------------------------------------
// TestRodBrowser_Launcher - Launch Flags
// ---------------------------------------------------------------------------

func TestRodBrowser_NewLauncher(t *testing.T) {
	t.Parallel()

	r := &rodBrowser{opts: RodOptions{
		Bin:       "/opt/chrome/chrome",
		NoSandbox: true,
		Flags:     []string{"--window-size=800,600", "disable-web-security"},
	}}
	l := r.newLauncher()

	if got := l.Get(flags.Bin); got != "/opt/chrome/chrome" {
		t.Errorf("bin = %q, want /opt/chrome/chrome", got)
	}
	for _, f := range append([]string{"no-sandbox", "disable-web-security"}, DefaultChromeFlags...) {
		if !l.Has(flags.Flag(f)) {
			t.Errorf("launcher missing flag %q", f)
		}
	}
	if got := l.Get(flags.Flag("window-size")); got != "800,600" {
		t.Errorf("window-size = %q, want 800,600", got)
	}
}

func TestResolveBrowserBin_Explicit(t *testing.T) {
	t.Parallel()

	bin, ok := ResolveBrowserBin("/usr/bin/chromium")
	if !ok || bin != "/usr/bin/chromium" {
		t.Errorf("ResolveBrowserBin() = (%q, %v), want explicit path", bin, ok)
	}
}

// ---------------------------------------------------------------------------
// TestRodBrowser_NotStarted - Calls Before Start
// ---------------------------------------------------------------------------

func TestRodBrowser_NotStarted(t *testing.T) {
	t.Parallel()

	r := &rodBrowser{}
	ctx := context.Background()

	if err := r.Navigate(ctx, Target{HTML: "<p/>"}); !errors.Is(err, ErrNavigation) {
		t.Errorf("Navigate() error = %v, want ErrNavigation", err)
	}
	if _, err := r.Capture(ctx, OutputPDF, CaptureOptions{}); !errors.Is(err, ErrCapture) {
		t.Errorf("Capture() error = %v, want ErrCapture", err)
	}
	if err := r.Ping(ctx); err == nil {
		t.Error("Ping() before Start should fail")
	}
	if err := r.Reset(ctx); err == nil {
		t.Error("Reset() before Start should fail")
	}
	if pid := r.PID(); pid != 0 {
		t.Errorf("PID() = %d, want 0", pid)
	}

	// Terminate is idempotent and safe without a process.
	r.Terminate()
	r.Terminate()

	if err := r.Start(ctx); !errors.Is(err, ErrLaunch) {
		t.Errorf("Start() after Terminate error = %v, want ErrLaunch", err)
	}
}

// ---------------------------------------------------------------------------
// TestClassify - Browser Error Mapping
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	t.Parallel()

	expired, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	canceled, cancel2 := context.WithCancel(context.Background())
	cancel2()

	cause := errors.New("cdp failure")

	if err := classify(expired, cause, ErrCaptureTimeout, ErrCapture); !errors.Is(err, ErrCaptureTimeout) {
		t.Errorf("expired ctx: got %v, want ErrCaptureTimeout", err)
	}
	if err := classify(canceled, cause, ErrCaptureTimeout, ErrCapture); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled ctx: got %v, want context.Canceled", err)
	}
	if err := classify(context.Background(), cause, ErrCaptureTimeout, ErrCapture); !errors.Is(err, ErrCapture) {
		t.Errorf("live ctx: got %v, want ErrCapture", err)
	}
	if err := classify(context.Background(), context.DeadlineExceeded, ErrNavigationTimeout, ErrNavigation); !errors.Is(err, ErrNavigationTimeout) {
		t.Errorf("deadline cause: got %v, want ErrNavigationTimeout", err)
	}
}
