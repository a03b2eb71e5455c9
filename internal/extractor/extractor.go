package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/deltawatch/internal/browser"
	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/llm"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/lance13c/deltawatch/internal/models"
)

const (
	defaultRetryCount = 3
	defaultRetryDelay = 2 * time.Second
	maxRetryDelay     = time.Minute
)

// SelectorStore persists selector repairs
type SelectorStore interface {
	UpdateMonitorSelector(ctx context.Context, id int64, selector string, healedAt time.Time) error
	SetPendingSelector(ctx context.Context, id int64, selector string) error
}

// ScreenshotSaver writes screenshot artifacts
type ScreenshotSaver interface {
	SaveScreenshot(monitorID int64, png []byte) (string, error)
}

// Result is what one extraction produced
type Result struct {
	// Value is the extracted text, nil when nothing could be read
	Value      *string
	HTTPStatus int
	// ScreenshotPath is set in visual mode
	ScreenshotPath string
	// Healed is the replacement selector when the configured one was repaired
	Healed string
}

// Extractor drives a page through navigation, scripted steps and extraction
type Extractor struct {
	cfg         config.ExtractionConfig
	ai          llm.Client
	store       SelectorStore
	screenshots ScreenshotSaver

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an extractor. ai may be nil to disable self-healing.
func New(cfg config.ExtractionConfig, ai llm.Client, store SelectorStore, screenshots ScreenshotSaver) *Extractor {
	if ai == nil {
		ai = llm.Disabled{}
	}
	return &Extractor{
		cfg:         withDefaults(cfg),
		ai:          ai,
		store:       store,
		screenshots: screenshots,
		sleep:       sleepContext,
		now:         time.Now,
	}
}

func withDefaults(cfg config.ExtractionConfig) config.ExtractionConfig {
	def := config.DefaultConfig().Extraction
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = def.FallbackTimeout
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = def.SelectorTimeout
	}
	if cfg.AttachedTimeout <= 0 {
		cfg.AttachedTimeout = def.AttachedTimeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.TextAttempts <= 0 {
		cfg.TextAttempts = def.TextAttempts
	}
	if cfg.TextRetryDelay < 0 {
		cfg.TextRetryDelay = def.TextRetryDelay
	}
	return cfg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run extracts the monitor's target from page. Transient navigation failures
// are retried with exponential backoff; anything else fails immediately.
func (e *Extractor) Run(ctx context.Context, m *models.Monitor, page browser.Page) (*Result, error) {
	attempts := m.RetryCount
	if attempts <= 0 {
		attempts = defaultRetryCount
	}
	delay := m.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	for attempt := 1; ; attempt++ {
		res, err := e.attempt(ctx, m, page)
		if err == nil {
			return res, nil
		}
		if attempt >= attempts || !browser.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}

		wait := backoff(delay, attempt)
		logging.Warn("Monitor %d: attempt %d/%d failed (%v), retrying in %s", m.ID, attempt, attempts, err, wait)
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// backoff returns base × 2^(attempt-1), capped
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

func (e *Extractor) attempt(ctx context.Context, m *models.Monitor, page browser.Page) (*Result, error) {
	status, err := e.navigate(ctx, page, m.URL)
	if err != nil {
		return nil, err
	}
	res := &Result{HTTPStatus: status}

	e.settleOverlays(ctx, m, page)
	e.runScenario(ctx, m, page)

	if m.Mode == models.ModeVisual {
		res.Value = e.readText(ctx, page, targetSelector(m))

		png, err := page.Screenshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("screenshot failed: %w", err)
		}
		path, err := e.screenshots.SaveScreenshot(m.ID, png)
		if err != nil {
			return nil, err
		}
		res.ScreenshotPath = path
		return res, nil
	}

	if m.IsWholePage() {
		res.Value = e.readText(ctx, page, "body")
		return res, nil
	}

	if e.locate(ctx, page, m.Selector) {
		res.Value = e.readText(ctx, page, m.Selector)
		return res, nil
	}

	logging.Warn("Monitor %d: selector %q not found, trying to repair it", m.ID, m.Selector)
	value, healed, err := e.heal(ctx, m, page)
	if err != nil {
		return nil, err
	}
	res.Value = value
	res.Healed = healed
	return res, nil
}

// navigate loads the page with a strict readiness wait, falling back once to a
// lenient wait when the strict one times out
func (e *Extractor) navigate(ctx context.Context, page browser.Page, url string) (int, error) {
	strictCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	status, err := page.Navigate(strictCtx, url, browser.WaitLoad)
	cancel()
	if err == nil {
		return status, nil
	}

	var navErr *browser.NavigationError
	if ctx.Err() != nil || !errors.As(err, &navErr) || navErr.Code != browser.CodeTimeout {
		return 0, err
	}

	logging.Debug("Strict load of %s timed out, retrying with %s wait", url, browser.WaitDOMContentLoaded)
	lenientCtx, cancel := context.WithTimeout(ctx, e.cfg.FallbackTimeout)
	defer cancel()
	return page.Navigate(lenientCtx, url, browser.WaitDOMContentLoaded)
}

func (e *Extractor) settleOverlays(ctx context.Context, m *models.Monitor, page browser.Page) {
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	n, err := page.DismissOverlays(stepCtx)
	if err != nil {
		logging.Debug("Monitor %d: overlay dismissal failed: %v", m.ID, err)
		return
	}
	if n > 0 {
		logging.Debug("Monitor %d: dismissed %d overlay(s)", m.ID, n)
	}
}

// locate waits for the selector to become visible, then settles for an
// attached element scrolled into view
func (e *Extractor) locate(ctx context.Context, page browser.Page, selector string) bool {
	visibleCtx, cancel := context.WithTimeout(ctx, e.cfg.SelectorTimeout)
	err := page.WaitVisible(visibleCtx, selector)
	cancel()
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	attachedCtx, cancel := context.WithTimeout(ctx, e.cfg.AttachedTimeout)
	defer cancel()
	if err := page.WaitAttached(attachedCtx, selector); err != nil {
		return false
	}
	if err := page.ScrollIntoView(attachedCtx, selector); err != nil {
		logging.Debug("Scroll to %q failed: %v", selector, err)
	}
	return true
}

// readText reads the selector's text, retrying while it is empty. Returns nil
// when no text appeared.
func (e *Extractor) readText(ctx context.Context, page browser.Page, selector string) *string {
	for attempt := 1; attempt <= e.cfg.TextAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		text, err := page.Text(stepCtx, selector)
		cancel()

		if err != nil {
			logging.Debug("Reading text of %q failed: %v", selector, err)
		} else if text = strings.TrimSpace(text); text != "" {
			return &text
		}

		if attempt < e.cfg.TextAttempts {
			if e.sleep(ctx, e.cfg.TextRetryDelay) != nil {
				return nil
			}
		}
	}
	return nil
}

// heal asks the AI for a replacement selector, verifies it against the live
// page and persists it. A missing answer or failed verification yields a nil
// value, not an error.
func (e *Extractor) heal(ctx context.Context, m *models.Monitor, page browser.Page) (*string, string, error) {
	if !e.ai.Enabled() {
		return nil, "", nil
	}

	raw, err := page.HTML(ctx)
	if err != nil {
		logging.Warn("Monitor %d: could not read page HTML for repair: %v", m.ID, err)
		return nil, "", nil
	}
	snapshot, err := browser.SimplifyHTML(raw, browser.DefaultSnapshotLimit)
	if err != nil {
		logging.Warn("Monitor %d: could not simplify page HTML: %v", m.ID, err)
		return nil, "", nil
	}

	oldValue := ""
	if m.LastValue != nil {
		oldValue = *m.LastValue
	}
	candidate := strings.TrimSpace(e.ai.FindReplacementSelector(ctx, snapshot, m.Selector, oldValue, m.AIPrompt))
	if candidate == "" || candidate == m.Selector {
		logging.Info("Monitor %d: no replacement selector found", m.ID)
		return nil, "", nil
	}

	countCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	n, err := page.Count(countCtx, candidate)
	cancel()
	if err != nil || n == 0 {
		logging.Info("Monitor %d: suggested selector %q does not match the page", m.ID, candidate)
		return nil, "", nil
	}

	value := e.readText(ctx, page, candidate)
	if value == nil {
		// Matches but yields nothing yet; keep it for review instead of switching
		if err := e.store.SetPendingSelector(ctx, m.ID, candidate); err != nil {
			return nil, "", fmt.Errorf("failed to store pending selector: %w", err)
		}
		logging.Info("Monitor %d: selector %q stored as pending", m.ID, candidate)
		return nil, "", nil
	}

	if err := e.store.UpdateMonitorSelector(ctx, m.ID, candidate, e.now()); err != nil {
		return nil, "", fmt.Errorf("failed to store repaired selector: %w", err)
	}
	logging.Info("Monitor %d: selector repaired %q -> %q", m.ID, m.Selector, candidate)
	return value, candidate, nil
}

func targetSelector(m *models.Monitor) string {
	if m.IsWholePage() {
		return "body"
	}
	return m.Selector
}
