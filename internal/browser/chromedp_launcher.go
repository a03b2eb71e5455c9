package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/lance13c/deltawatch/internal/logging"
)

// ChromeLauncher starts headless Chrome processes through chromedp
type ChromeLauncher struct{}

// NewChromeLauncher creates a launcher for the local Chrome install
func NewChromeLauncher() *ChromeLauncher {
	return &ChromeLauncher{}
}

// findChrome attempts to find Chrome executable
func findChrome() (string, error) {
	var paths []string

	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "linux":
		paths = []string{
			"google-chrome",
			"google-chrome-stable",
			"chromium",
			"chromium-browser",
			"headless-shell",
		}
	case "windows":
		paths = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	}

	for _, path := range paths {
		if runtime.GOOS == "darwin" {
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		} else if resolved, err := exec.LookPath(path); err == nil {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("Chrome browser not found; install Chrome or Chromium, or set browser.exec_path")
}

// allocatorOptions builds the exec allocator flags for one browser process
func allocatorOptions(opts LaunchOptions, execPath string) []chromedp.ExecAllocatorOption {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	if os.Geteuid() == 0 {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	return allocOpts
}

// Launch starts a browser process. The process outlives ctx; it is stopped by Close.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	execPath := opts.ExecPath
	if execPath == "" {
		found, err := findChrome()
		if err != nil {
			return nil, err
		}
		execPath = found
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1920, 1080
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts, execPath)...)
	browserCtx, browserCancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, v ...interface{}) {
			logging.Debug("[Chrome] "+format, v...)
		}),
	)

	// The first Run starts the process; ctx only bounds the startup wait
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start Chrome: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Browser == nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start Chrome: no browser attached")
	}

	if opts.Proxy != "" {
		logging.Info("Chrome started from %s (proxy %s)", execPath, opts.Proxy)
	} else {
		logging.Info("Chrome started from %s", execPath)
	}

	return &chromeInstance{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		lost:        c.Browser.LostConnection,
	}, nil
}

// chromeInstance is one Chrome process
type chromeInstance struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	lost        <-chan struct{}
	closeOnce   sync.Once
}

// Alive reports false after a crash, a dropped CDP connection or Close
func (c *chromeInstance) Alive() bool {
	select {
	case <-c.lost:
		return false
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// NewContext creates an isolated browser context (separate cookies and storage)
func (c *chromeInstance) NewContext(ctx context.Context) (BrowsingContext, error) {
	if !c.Alive() {
		return nil, fmt.Errorf("browser is not running")
	}

	bctx, cancel := chromedp.NewContext(c.ctx, chromedp.WithNewBrowserContext())

	created := make(chan error, 1)
	go func() { created <- chromedp.Run(bctx) }()

	select {
	case err := <-created:
		if err != nil {
			cancel()
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	return &chromeContext{ctx: bctx, cancel: cancel}, nil
}

// Close stops the browser process
func (c *chromeInstance) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = chromedp.Cancel(c.ctx)
		c.cancel()
		c.allocCancel()
	})
	return err
}

// chromeContext is a browser context; cancelling it disposes every tab in it
type chromeContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPage opens a new tab in this browser context
func (b *chromeContext) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	p := newChromePage(tabCtx, cancel)

	if err := p.init(ctx); err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

func (b *chromeContext) Close() error {
	b.cancel()
	return nil
}
