// Package renderd renders URLs, HTML, and Markdown with a pool of headless
// Chrome instances.
//
// # Quick Start
//
// Create a pool, warm it up, and run jobs through an executor:
//
//	pool, err := renderd.NewPool(renderd.NewRodFactory(renderd.RodOptions{}), renderd.DefaultPoolConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := pool.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Shutdown(context.Background())
//
//	exec := renderd.NewExecutor(pool, renderd.DefaultExecutorConfig())
//	res, err := exec.Execute(ctx, renderd.Job{
//	    Target: "https://example.com",
//	    Output: renderd.OutputPDF,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("page.pdf", res.Data, 0644)
//
// # Job Lifecycle
//
// Every job goes through the same stages:
//
//  1. Validation (target, output kind, options)
//  2. Markdown conversion via Goldmark when the source is Markdown
//  3. Lease acquisition from the pool, retried once after a short backoff
//  4. Viewport, navigation, and capture on the leased browser (go-rod)
//  5. Release, which resets the browser to a blank page for the next job
//
// A job that times out while it holds a browser discards that browser
// instead of releasing it. The pool replaces discarded browsers in the
// background.
//
// # Pool
//
// The pool keeps MinSize browsers warm and grows to MaxSize under load.
// Browsers are recycled after MaxRequestsPerInstance jobs, retired after
// IdleTimeout above MinSize, and probed every ProbeInterval. A zero
// MaxSize resolves from GOMAXPROCS via ResolvePoolSize.
//
// # Options
//
// NewPool and NewExecutor accept functional options:
//
//	pool, err := renderd.NewPool(factory, cfg,
//	    renderd.WithLogger(logger),
//	    renderd.WithObserver(collector),
//	    renderd.WithTracer(tracer),
//	)
//
// # Errors
//
// Failures wrap sentinel errors (ErrPoolExhausted, ErrNavigationTimeout, ...).
// KindOf maps any error to the ErrorKind reported to HTTP clients.
//
// # Browser Requirements
//
// Rendering requires Chrome/Chromium. ResolveBrowserBin checks the
// configured path, then ROD_BROWSER_BIN, then PATH. In containers, set
// RodOptions.NoSandbox or run with CI=true.
package renderd
