package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// chromePage drives one tab through chromedp
type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	statuses map[cdp.FrameID]int
}

func newChromePage(tabCtx context.Context, cancel context.CancelFunc) *chromePage {
	return &chromePage{
		ctx:      tabCtx,
		cancel:   cancel,
		statuses: make(map[cdp.FrameID]int),
	}
}

// init opens the tab and starts recording document response codes
func (p *chromePage) init(ctx context.Context) error {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument && e.Response != nil {
			p.mu.Lock()
			p.statuses[e.FrameID] = int(e.Response.Status)
			p.mu.Unlock()
		}
	})

	if err := p.run(ctx, network.Enable()); err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}
	return nil
}

// run executes actions on the tab, bounded by both the tab lifetime and ctx.
// Deriving from the tab context keeps a timeout from closing the tab itself.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the requested readiness
func (p *chromePage) Navigate(ctx context.Context, url string, wait WaitCondition) (int, error) {
	var res page.NavigateReturns
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res)
	}))
	if err != nil {
		return 0, wrapNavigationError(url, err)
	}
	if res.ErrorText != "" {
		return 0, newNavigationError(url, res.ErrorText)
	}

	status := p.documentStatus(res.FrameID)
	if err := p.waitReady(ctx, wait); err != nil {
		return status, wrapNavigationError(url, err)
	}
	// The final response of a redirect chain may land after the first read
	return p.documentStatus(res.FrameID), nil
}

func (p *chromePage) documentStatus(frame cdp.FrameID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statuses[frame]
}

// waitReady polls document.readyState until it satisfies wait
func (p *chromePage) waitReady(ctx context.Context, wait WaitCondition) error {
	for {
		var state string
		if err := p.run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return err
		}

		if state == "complete" || (wait == WaitDOMContentLoaded && state == "interactive") {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return selectorError(selector, err)
	}
	return nil
}

func (p *chromePage) WaitAttached(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return selectorError(selector, err)
	}
	return nil
}

func (p *chromePage) ScrollIntoView(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
}

// selectorError maps a wait timeout onto ErrSelectorNotFound
func selectorError(selector string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	return err
}

// jsString quotes s as a JavaScript string literal
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return "";
		return (el.innerText || el.textContent || "").trim();
	})()`, jsString(selector))

	var text string
	if err := p.run(ctx, chromedp.Evaluate(script, &text)); err != nil {
		return "", err
	}
	return text, nil
}

func (p *chromePage) Count(ctx context.Context, selector string) (int, error) {
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))

	var n int
	if err := p.run(ctx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromePage) Type(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// keyNames maps scenario key names to chromedp key codes
var keyNames = map[string]string{
	"enter":      kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
	"space":      " ",
}

func (p *chromePage) PressKey(ctx context.Context, key string) error {
	code, ok := keyNames[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		if len([]rune(key)) != 1 {
			return fmt.Errorf("unknown key %q", key)
		}
		code = key
	}
	return p.run(ctx, chromedp.KeyEvent(code))
}

func (p *chromePage) ScrollBy(ctx context.Context, pixels int) error {
	var ok bool
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf(`(window.scrollBy(0, %d), true)`, pixels), &ok))
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 makes chromedp capture PNG
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// overlayScript clicks consent buttons and hides fixed overlays that cover the page
const overlayScript = `(() => {
	let handled = 0;
	const words = ["accept all", "accept", "agree", "allow all", "got it", "i understand", "ok"];
	const buttons = document.querySelectorAll('button, [role="button"], a.button, input[type="submit"]');
	for (const b of buttons) {
		const text = (b.innerText || b.value || "").trim().toLowerCase();
		if (!text || text.length > 30) continue;
		if (words.some(w => text === w || text.startsWith(w + " "))) {
			try { b.click(); handled++; } catch (e) {}
			break;
		}
	}
	const vw = window.innerWidth, vh = window.innerHeight;
	for (const el of document.querySelectorAll('body *')) {
		const style = getComputedStyle(el);
		if (style.position !== 'fixed' && style.position !== 'sticky') continue;
		const z = parseInt(style.zIndex, 10);
		if (isNaN(z) || z < 100) continue;
		const r = el.getBoundingClientRect();
		if (r.width * r.height < vw * vh * 0.25) continue;
		el.style.setProperty('display', 'none', 'important');
		handled++;
	}
	if (handled > 0) {
		document.documentElement.style.overflow = 'auto';
		document.body.style.overflow = 'auto';
	}
	return handled;
})()`

func (p *chromePage) DismissOverlays(ctx context.Context) (int, error) {
	var handled int
	if err := p.run(ctx, chromedp.Evaluate(overlayScript, &handled)); err != nil {
		return 0, err
	}
	return handled, nil
}

// Close closes the tab
func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
