//go:build integration

package renderd

// Notes:
// - Requires Chrome/Chromium. Set ROD_BROWSER_BIN in containers; otherwise
//   rod looks the browser up on PATH.
// - One shared pool serves every test, like a real server would, so the
//   suite also covers reset-between-jobs against a real page.

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// testTimeout is the standard timeout for integration operations.
const testTimeout = 30 * time.Second

var (
	testPool     *Pool
	testExecutor *Executor
)

func TestMain(m *testing.M) {
	factory := NewRodFactory(RodOptions{NoSandbox: os.Getenv("ROD_BROWSER_BIN") != ""})
	pool, err := NewPool(factory, PoolConfig{MinSize: 1, MaxSize: min(ResolvePoolSize(0), 4)})
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	if err := pool.Start(ctx); err != nil {
		cancel()
		panic(err)
	}
	cancel()

	testPool = pool
	testExecutor = NewExecutor(pool, DefaultExecutorConfig())

	code := m.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), testTimeout)
	_ = pool.Shutdown(shutdownCtx)
	cancel()
	os.Exit(code)
}

func execute(t *testing.T, job Job) *Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	res, err := testExecutor.Execute(ctx, job)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	return res
}

func TestIntegration_PDF(t *testing.T) {
	res := execute(t, Job{Target: "<h1>Integration</h1>", Output: OutputPDF})

	if !bytes.HasPrefix(res.Data, []byte("%PDF-")) {
		t.Errorf("data does not have PDF magic bytes, got prefix: %q", res.Data[:min(10, len(res.Data))])
	}
	if len(res.Data) < 100 {
		t.Errorf("PDF data suspiciously small: %d bytes", len(res.Data))
	}
}

func TestIntegration_Screenshot(t *testing.T) {
	res := execute(t, Job{
		Target:   "<body style='background:#c00'>x</body>",
		Output:   OutputScreenshot,
		Viewport: &Viewport{Width: 320, Height: 200},
	})

	if !bytes.HasPrefix(res.Data, fakePNG) {
		t.Errorf("data does not have PNG magic bytes")
	}
}

func TestIntegration_HTMLRoundTripAndReset(t *testing.T) {
	first := execute(t, Job{Target: "<p id='secret'>first job</p>", Source: SourceHTML, Output: OutputHTML})
	if !strings.Contains(string(first.Data), "first job") {
		t.Fatalf("html output missing content: %s", first.Data)
	}

	second := execute(t, Job{Target: "<p>second job</p>", Source: SourceHTML, Output: OutputHTML})
	if strings.Contains(string(second.Data), "first job") {
		t.Error("second job saw the first job's document")
	}
}

func TestIntegration_Markdown(t *testing.T) {
	res := execute(t, Job{Target: "# Hello\n\n```go\nfunc main() {}\n```", Source: SourceMarkdown, Output: OutputHTML})
	if !strings.Contains(string(res.Data), `id="hello"`) {
		t.Errorf("markdown heading missing from rendered page")
	}
}

func TestIntegration_NavigationError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := testExecutor.Execute(ctx, Job{Target: "http://127.0.0.1:1/", Output: OutputPDF})
	if KindOf(err) != KindNavigationError {
		t.Errorf("Execute() error = %v, want kind %q", err, KindNavigationError)
	}
}

func TestIntegration_PingAndTerminate(t *testing.T) {
	b := NewRodFactory(RodOptions{NoSandbox: os.Getenv("ROD_BROWSER_BIN") != ""})()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if b.PID() == 0 {
		t.Error("PID() = 0 after Start")
	}
	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	b.Terminate()
	b.Terminate()

	if err := b.Ping(ctx); err == nil {
		t.Error("Ping() after Terminate should fail")
	}
}

func TestIntegration_MissingBinary(t *testing.T) {
	b := NewRodFactory(RodOptions{Bin: "/nonexistent/chrome", LaunchTimeout: 5 * time.Second})()
	defer b.Terminate()

	err := b.Start(context.Background())
	if !errors.Is(err, ErrLaunch) {
		t.Errorf("Start() error = %v, want ErrLaunch", err)
	}
}
