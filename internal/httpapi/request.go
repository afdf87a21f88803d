package httpapi

import (
	"time"

	"github.com/alnah/go-renderd"
)

// RenderRequest is the JSON body of POST /render.
type RenderRequest struct {
	Target          string             `json:"target"`
	Kind            string             `json:"kind"`
	Source          string             `json:"source,omitempty"`
	TimeoutMs       int                `json:"timeoutMs,omitempty"`
	Viewport        *ViewportRequest   `json:"viewport,omitempty"`
	Screenshot      *ScreenshotRequest `json:"screenshot,omitempty"`
	PDF             *PDFRequest        `json:"pdf,omitempty"`
	WaitForMs       int                `json:"waitForMs,omitempty"`
	StripCodeFences bool               `json:"stripCodeFences,omitempty"`
}

// ViewportRequest sets the page size in CSS pixels.
type ViewportRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenshotRequest mirrors renderd.ScreenshotOptions.
type ScreenshotRequest struct {
	Format   string `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	FullPage bool   `json:"fullPage,omitempty"`
}

// PDFRequest mirrors renderd.PDFOptions. PrintBackground defaults to true.
type PDFRequest struct {
	Paper           string  `json:"paper,omitempty"`
	Landscape       bool    `json:"landscape,omitempty"`
	Margin          float64 `json:"margin,omitempty"`
	PrintBackground *bool   `json:"printBackground,omitempty"`
}

// Job translates the request into a renderd.Job. It does not validate;
// the handler calls Job.Validate before anything reaches the executor.
func (r *RenderRequest) Job() renderd.Job {
	job := renderd.Job{
		Target:          r.Target,
		Source:          renderd.Source(r.Source),
		Output:          renderd.OutputKind(r.Kind),
		Timeout:         time.Duration(r.TimeoutMs) * time.Millisecond,
		WaitFor:         time.Duration(r.WaitForMs) * time.Millisecond,
		StripCodeFences: r.StripCodeFences,
	}
	if r.Viewport != nil {
		job.Viewport = &renderd.Viewport{Width: r.Viewport.Width, Height: r.Viewport.Height}
	}
	if r.Screenshot != nil {
		job.Screenshot = &renderd.ScreenshotOptions{
			Format:   r.Screenshot.Format,
			Quality:  r.Screenshot.Quality,
			FullPage: r.Screenshot.FullPage,
		}
	}
	if r.PDF != nil {
		job.PDF = &renderd.PDFOptions{
			Paper:           r.PDF.Paper,
			Landscape:       r.PDF.Landscape,
			Margin:          r.PDF.Margin,
			PrintBackground: r.PDF.PrintBackground == nil || *r.PDF.PrintBackground,
		}
	}
	return job
}
