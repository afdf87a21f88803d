package main

import (
	"context"
	"errors"
	"sync"

	"github.com/alnah/go-renderd"
)

// fakeBrowser echoes the loaded document back for html captures.
type fakeBrowser struct {
	mu       sync.Mutex
	started  bool
	document string
}

func newFakeFactory() renderd.BrowserFactory {
	return func() renderd.Browser { return &fakeBrowser{} }
}

func (f *fakeBrowser) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeBrowser) SetViewport(context.Context, renderd.Viewport) error { return nil }

func (f *fakeBrowser) Navigate(_ context.Context, t renderd.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.document = t.HTML
	if t.URL != "" {
		f.document = "<html>" + t.URL + "</html>"
	}
	return nil
}

func (f *fakeBrowser) Capture(_ context.Context, kind renderd.OutputKind, _ renderd.CaptureOptions) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case renderd.OutputHTML:
		return []byte(f.document), nil
	case renderd.OutputPDF:
		return []byte("%PDF-1.7 fake"), nil
	default:
		return []byte("\x89PNG\r\n\x1a\n"), nil
	}
}

func (f *fakeBrowser) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return errors.New("not started")
	}
	return nil
}

func (f *fakeBrowser) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.document = ""
	return nil
}

func (f *fakeBrowser) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
}

func (f *fakeBrowser) PID() int { return 0 }
