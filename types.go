package renderd

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// OutputKind selects the artifact produced for a job.
type OutputKind string

// Output kinds.
const (
	OutputScreenshot OutputKind = "screenshot"
	OutputPDF        OutputKind = "pdf"
	OutputHTML       OutputKind = "html"
)

// Source tells the executor how to interpret Job.Target.
type Source string

// Sources. SourceAuto treats http(s), data and about URLs as URLs and
// everything else as HTML markup.
const (
	SourceAuto     Source = ""
	SourceURL      Source = "url"
	SourceHTML     Source = "html"
	SourceMarkdown Source = "markdown"
)

// Paper size constants.
const (
	PaperLetter = "letter"
	PaperA4     = "a4"
	PaperLegal  = "legal"
)

// Screenshot format constants.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// Margin bounds in inches.
const (
	MinMargin     = 0.25
	MaxMargin     = 3.0
	DefaultMargin = 0.5
)

// Viewport bounds in CSS pixels. The default matches an A4 page at 1200px wide.
const (
	MinViewportSize       = 1
	MaxViewportSize       = 8192
	DefaultViewportWidth  = 1200
	DefaultViewportHeight = 1697
)

// Request limits.
const (
	MaxTargetBytes = 10 << 20
	MaxWaitFor     = 10 * time.Second
	MaxQuality     = 100
)

// Content types returned with artifacts.
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeWebP = "image/webp"
	ContentTypePDF  = "application/pdf"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// Viewport sets the page's device metrics before navigation.
type Viewport struct {
	Width  int
	Height int
}

// Validate checks viewport bounds. Returns nil if v is nil (nil means defaults).
func (v *Viewport) Validate() error {
	if v == nil {
		return nil
	}
	if v.Width < MinViewportSize || v.Width > MaxViewportSize {
		return fmt.Errorf("%w: viewport width %d (must be between %d and %d)", ErrMalformedRequest, v.Width, MinViewportSize, MaxViewportSize)
	}
	if v.Height < MinViewportSize || v.Height > MaxViewportSize {
		return fmt.Errorf("%w: viewport height %d (must be between %d and %d)", ErrMalformedRequest, v.Height, MinViewportSize, MaxViewportSize)
	}
	return nil
}

// ScreenshotOptions configures image capture.
type ScreenshotOptions struct {
	Format   string // "png" (default), "jpeg", "webp"
	Quality  int    // 1-100, jpeg and webp only (0 = browser default)
	FullPage bool   // capture beyond the viewport
}

// Validate checks screenshot options. Returns nil if s is nil.
func (s *ScreenshotOptions) Validate() error {
	if s == nil {
		return nil
	}
	switch strings.ToLower(s.Format) {
	case "", FormatPNG:
		if s.Quality != 0 {
			return fmt.Errorf("%w: quality is not supported for png", ErrMalformedRequest)
		}
	case FormatJPEG, FormatWebP:
	default:
		return fmt.Errorf("%w: screenshot format %q (must be png, jpeg, or webp)", ErrMalformedRequest, s.Format)
	}
	if s.Quality < 0 || s.Quality > MaxQuality {
		return fmt.Errorf("%w: quality %d (must be between 1 and %d)", ErrMalformedRequest, s.Quality, MaxQuality)
	}
	return nil
}

// ContentType returns the MIME type for the configured format.
func (s *ScreenshotOptions) ContentType() string {
	if s == nil {
		return ContentTypePNG
	}
	switch strings.ToLower(s.Format) {
	case FormatJPEG:
		return ContentTypeJPEG
	case FormatWebP:
		return ContentTypeWebP
	default:
		return ContentTypePNG
	}
}

// PDFOptions configures PDF capture.
type PDFOptions struct {
	Paper           string  // "a4" (default), "letter", "legal"
	Landscape       bool    // swap paper width and height
	Margin          float64 // inches, all sides (0 = DefaultMargin)
	PrintBackground bool
}

// DefaultPDFOptions returns the PDF settings used when a job sets none.
func DefaultPDFOptions() *PDFOptions {
	return &PDFOptions{
		Paper:           PaperA4,
		Margin:          DefaultMargin,
		PrintBackground: true,
	}
}

// Validate checks PDF options. Returns nil if p is nil (nil means defaults).
// Does not mutate - uses case-insensitive comparison.
func (p *PDFOptions) Validate() error {
	if p == nil {
		return nil
	}
	if p.Paper != "" && !isValidPaper(p.Paper) {
		return fmt.Errorf("%w: paper %q (must be a4, letter, or legal)", ErrMalformedRequest, p.Paper)
	}
	if p.Margin != 0 && (p.Margin < MinMargin || p.Margin > MaxMargin) {
		return fmt.Errorf("%w: margin %.2f (must be between %.2f and %.2f)", ErrMalformedRequest, p.Margin, MinMargin, MaxMargin)
	}
	return nil
}

// dimensions returns paper width, height and margin in inches.
// Unknown or empty paper falls back to A4.
func (p *PDFOptions) dimensions() (width, height, margin float64) {
	if p == nil {
		p = DefaultPDFOptions()
	}
	switch strings.ToLower(p.Paper) {
	case PaperLetter:
		width, height = 8.5, 11.0
	case PaperLegal:
		width, height = 8.5, 14.0
	default:
		width, height = 8.27, 11.69
	}
	if p.Landscape {
		width, height = height, width
	}
	margin = p.Margin
	if margin == 0 {
		margin = DefaultMargin
	}
	return width, height, margin
}

// isValidPaper checks if paper is a known size (case-insensitive).
func isValidPaper(paper string) bool {
	switch strings.ToLower(paper) {
	case PaperLetter, PaperA4, PaperLegal:
		return true
	}
	return false
}

// Job is one rendering request. It lives only as long as the request.
type Job struct {
	Target          string             // URL, HTML markup, or Markdown (required)
	Source          Source             // how to read Target (default: auto-detect)
	Output          OutputKind         // artifact kind (required)
	Timeout         time.Duration      // overall budget (0 = executor default)
	Viewport        *Viewport          // optional, nil = DefaultViewport
	Screenshot      *ScreenshotOptions // optional, screenshot output only
	PDF             *PDFOptions        // optional, pdf output only
	WaitFor         time.Duration      // extra settle time after load
	StripCodeFences bool               // drop ```html fences around generated markup
}

// Validate checks that required fields are present and valid.
// Every failure wraps ErrMalformedRequest.
func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrMalformedRequest)
	}
	if strings.TrimSpace(j.Target) == "" {
		return fmt.Errorf("%w: target cannot be empty", ErrMalformedRequest)
	}
	if len(j.Target) > MaxTargetBytes {
		return fmt.Errorf("%w: target exceeds %d bytes", ErrMalformedRequest, MaxTargetBytes)
	}
	switch j.Output {
	case OutputScreenshot, OutputPDF, OutputHTML:
	case "":
		return fmt.Errorf("%w: kind is required", ErrMalformedRequest)
	default:
		return fmt.Errorf("%w: kind %q (must be screenshot, pdf, or html)", ErrMalformedRequest, j.Output)
	}
	switch j.Source {
	case SourceAuto, SourceHTML, SourceMarkdown:
	case SourceURL:
		if err := validateURL(j.Target); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: source %q (must be url, html, or markdown)", ErrMalformedRequest, j.Source)
	}
	if j.Timeout < 0 {
		return fmt.Errorf("%w: timeout cannot be negative", ErrMalformedRequest)
	}
	if j.WaitFor < 0 || j.WaitFor > MaxWaitFor {
		return fmt.Errorf("%w: waitFor %s (must be between 0 and %s)", ErrMalformedRequest, j.WaitFor, MaxWaitFor)
	}
	if j.Screenshot != nil && j.Output != OutputScreenshot {
		return fmt.Errorf("%w: screenshot options require kind screenshot", ErrMalformedRequest)
	}
	if j.PDF != nil && j.Output != OutputPDF {
		return fmt.Errorf("%w: pdf options require kind pdf", ErrMalformedRequest)
	}
	if err := j.Viewport.Validate(); err != nil {
		return err
	}
	if err := j.Screenshot.Validate(); err != nil {
		return err
	}
	return j.PDF.Validate()
}

// ResolvedSource returns the effective source, detecting URLs when unset.
func (j *Job) ResolvedSource() Source {
	if j.Source != SourceAuto {
		return j.Source
	}
	if validateURL(j.Target) == nil {
		return SourceURL
	}
	return SourceHTML
}

// ContentType returns the MIME type of the artifact this job produces.
func (j *Job) ContentType() string {
	switch j.Output {
	case OutputPDF:
		return ContentTypePDF
	case OutputHTML:
		return ContentTypeHTML
	default:
		return j.Screenshot.ContentType()
	}
}

// validateURL accepts absolute http, https, data and about URLs only.
// file:// is refused so callers cannot read the host filesystem.
func validateURL(raw string) error {
	target := strings.TrimSpace(raw)
	if strings.IndexFunc(target, unicode.IsSpace) >= 0 && !strings.HasPrefix(target, "data:") {
		return fmt.Errorf("%w: target is not a URL", ErrMalformedRequest)
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrMalformedRequest, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: URL %q has no host", ErrMalformedRequest, target)
		}
		return nil
	case "data", "about":
		return nil
	case "":
		return fmt.Errorf("%w: URL %q has no scheme", ErrMalformedRequest, target)
	default:
		return fmt.Errorf("%w: URL scheme %q not allowed", ErrMalformedRequest, u.Scheme)
	}
}

// Timings breaks down where a job spent its budget.
type Timings struct {
	Acquire  time.Duration
	Navigate time.Duration
	Capture  time.Duration
}

// Result holds a rendered artifact. Ownership passes to the caller.
type Result struct {
	Data        []byte
	ContentType string
	InstanceID  string
	Duration    time.Duration
	Timings     Timings
}
