package browser

import "context"

// WaitCondition is how long Navigate waits after the document starts loading
type WaitCondition int

const (
	// WaitLoad waits for document.readyState == "complete"
	WaitLoad WaitCondition = iota
	// WaitDOMContentLoaded waits for "interactive" or later
	WaitDOMContentLoaded
)

func (w WaitCondition) String() string {
	if w == WaitDOMContentLoaded {
		return "domcontentloaded"
	}
	return "load"
}

// Page is one browser tab inside a leased browsing context.
// Every method is bounded by the deadline of ctx.
type Page interface {
	// Navigate loads url and returns the HTTP status of the main document (0 if unknown)
	Navigate(ctx context.Context, url string, wait WaitCondition) (int, error)

	WaitVisible(ctx context.Context, selector string) error
	WaitAttached(ctx context.Context, selector string) error
	ScrollIntoView(ctx context.Context, selector string) error

	// Text returns the rendered text of the first match, or "" when nothing matches
	Text(ctx context.Context, selector string) (string, error)
	// Count returns the number of elements matching selector
	Count(ctx context.Context, selector string) (int, error)

	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, value string) error
	PressKey(ctx context.Context, key string) error
	ScrollBy(ctx context.Context, pixels int) error

	HTML(ctx context.Context) (string, error)
	// Screenshot returns a full-page PNG
	Screenshot(ctx context.Context) ([]byte, error)
	// DismissOverlays closes cookie banners and modal overlays, returning how many were handled
	DismissOverlays(ctx context.Context) (int, error)

	Close() error
}

// BrowsingContext is an isolated cookie/storage jar within one browser process
type BrowsingContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Instance is one long-lived browser process
type Instance interface {
	NewContext(ctx context.Context) (BrowsingContext, error)
	// Alive is false once the process has crashed or lost its connection
	Alive() bool
	Close() error
}

// LaunchOptions configures a new browser process
type LaunchOptions struct {
	ExecPath     string
	Headless     bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Proxy        string
}

// Launcher starts browser processes
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Instance, error)
}

// OptionsSource returns the launch options in effect right now
type OptionsSource func(ctx context.Context) LaunchOptions
