package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lance13c/deltawatch/internal/browser"
	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/llm"
	"github.com/lance13c/deltawatch/internal/models"
)

// fakePage serves text per selector and scripts navigation outcomes
type fakePage struct {
	navErrs  []error // consumed one per Navigate call
	navWaits []browser.WaitCondition
	status   int

	visible  map[string]bool
	attached map[string]bool
	texts    map[string][]string // successive Text results per selector
	counts   map[string]int
	html     string

	clicks    []string
	typed     []string
	keys      []string
	scrolled  []int
	overlays  int
	shots     int
	scrolledT []string
}

func newFakePage() *fakePage {
	return &fakePage{
		status:   200,
		visible:  map[string]bool{},
		attached: map[string]bool{},
		texts:    map[string][]string{},
		counts:   map[string]int{},
		html:     "<html><body><span class=\"new-price\">€12</span></body></html>",
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string, wait browser.WaitCondition) (int, error) {
	p.navWaits = append(p.navWaits, wait)
	if len(p.navErrs) > 0 {
		err := p.navErrs[0]
		p.navErrs = p.navErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return p.status, nil
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	if p.visible[selector] {
		return nil
	}
	return browser.ErrSelectorNotFound
}

func (p *fakePage) WaitAttached(ctx context.Context, selector string) error {
	if p.attached[selector] || p.visible[selector] {
		return nil
	}
	return browser.ErrSelectorNotFound
}

func (p *fakePage) ScrollIntoView(ctx context.Context, selector string) error {
	p.scrolledT = append(p.scrolledT, selector)
	return nil
}

func (p *fakePage) Text(ctx context.Context, selector string) (string, error) {
	seq := p.texts[selector]
	if len(seq) == 0 {
		return "", nil
	}
	text := seq[0]
	if len(seq) > 1 {
		p.texts[selector] = seq[1:]
	}
	return text, nil
}

func (p *fakePage) Count(ctx context.Context, selector string) (int, error) {
	return p.counts[selector], nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	if selector == "#missing" {
		return browser.ErrSelectorNotFound
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) Type(ctx context.Context, selector, value string) error {
	p.typed = append(p.typed, selector+"="+value)
	return nil
}

func (p *fakePage) PressKey(ctx context.Context, key string) error {
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePage) ScrollBy(ctx context.Context, pixels int) error {
	p.scrolled = append(p.scrolled, pixels)
	return nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) { return p.html, nil }

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.shots++
	return []byte("png"), nil
}

func (p *fakePage) DismissOverlays(ctx context.Context) (int, error) {
	p.overlays++
	return 1, nil
}

func (p *fakePage) Close() error { return nil }

type fakeStore struct {
	selector string
	healedAt time.Time
	pending  string
}

func (s *fakeStore) UpdateMonitorSelector(ctx context.Context, id int64, selector string, healedAt time.Time) error {
	s.selector = selector
	s.healedAt = healedAt
	return nil
}

func (s *fakeStore) SetPendingSelector(ctx context.Context, id int64, selector string) error {
	s.pending = selector
	return nil
}

type fakeShots struct{ saved int }

func (f *fakeShots) SaveScreenshot(monitorID int64, png []byte) (string, error) {
	f.saved++
	return "/shots/1_1.png", nil
}

type fakeAI struct {
	llm.Disabled
	selector string
	asked    int
}

func (f *fakeAI) Enabled() bool { return true }

func (f *fakeAI) FindReplacementSelector(ctx context.Context, html, oldSelector, oldValue, hint string) string {
	f.asked++
	return f.selector
}

// newTestExtractor records sleeps instead of waiting
func newTestExtractor(ai llm.Client, store *fakeStore) (*Extractor, *[]time.Duration) {
	e := New(config.ExtractionConfig{}, ai, store, &fakeShots{})
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return e, &slept
}

func textMonitor() *models.Monitor {
	return &models.Monitor{ID: 1, URL: "https://shop.example", Mode: models.ModeText, Selector: ".price"}
}

func TestRunExtractsVisibleSelector(t *testing.T) {
	page := newFakePage()
	page.visible[".price"] = true
	page.texts[".price"] = []string{"  €10 "}

	e, _ := newTestExtractor(nil, &fakeStore{})
	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value == nil || *res.Value != "€10" {
		t.Fatalf("Value = %v", res.Value)
	}
	if res.HTTPStatus != 200 {
		t.Errorf("HTTPStatus = %d", res.HTTPStatus)
	}
	if page.overlays != 1 {
		t.Errorf("overlays dismissed %d times", page.overlays)
	}
	if page.shots != 0 {
		t.Error("text mode should not take a screenshot")
	}
}

func TestRunFallsBackToAttached(t *testing.T) {
	page := newFakePage()
	page.attached[".price"] = true
	page.texts[".price"] = []string{"€10"}

	e, _ := newTestExtractor(nil, &fakeStore{})
	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value == nil || *res.Value != "€10" {
		t.Fatalf("Value = %v", res.Value)
	}
	if len(page.scrolledT) != 1 {
		t.Error("attached element should be scrolled into view")
	}
}

func TestRunRetriesEmptyText(t *testing.T) {
	page := newFakePage()
	page.visible[".price"] = true
	page.texts[".price"] = []string{"", "", "€10"}

	e, slept := newTestExtractor(nil, &fakeStore{})
	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value == nil || *res.Value != "€10" {
		t.Fatalf("Value = %v", res.Value)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second {
		t.Errorf("slept %v, want two 1s waits", *slept)
	}
}

func TestRunEmptyTextGivesNil(t *testing.T) {
	page := newFakePage()
	page.visible[".price"] = true

	e, _ := newTestExtractor(nil, &fakeStore{})
	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != nil {
		t.Errorf("Value = %q, want nil", *res.Value)
	}
}

func TestRunRetriesTransientErrors(t *testing.T) {
	page := newFakePage()
	page.visible[".price"] = true
	page.texts[".price"] = []string{"€10"}
	refused := &browser.NavigationError{URL: "https://shop.example", Code: "net::ERR_CONNECTION_REFUSED"}
	page.navErrs = []error{refused, refused}

	e, slept := newTestExtractor(nil, &fakeStore{})
	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value == nil {
		t.Fatal("expected a value after retries")
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("backoff = %v, want %v", *slept, want)
	}
}

func TestRunGivesUpAfterRetryCount(t *testing.T) {
	page := newFakePage()
	reset := &browser.NavigationError{Code: "net::ERR_CONNECTION_RESET"}
	page.navErrs = []error{reset, reset, reset, reset}

	m := textMonitor()
	m.RetryCount = 2
	m.RetryDelay = 100 * time.Millisecond

	e, slept := newTestExtractor(nil, &fakeStore{})
	_, err := e.Run(context.Background(), m, page)
	if !browser.IsTransient(err) {
		t.Fatalf("err = %v", err)
	}
	if len(page.navWaits) != 2 {
		t.Errorf("navigated %d times, want 2", len(page.navWaits))
	}
	if len(*slept) != 1 || (*slept)[0] != 100*time.Millisecond {
		t.Errorf("slept %v", *slept)
	}
}

func TestRunDoesNotRetryPermanentErrors(t *testing.T) {
	page := newFakePage()
	page.navErrs = []error{&browser.NavigationError{Code: "net::ERR_NAME_NOT_RESOLVED"}}

	e, slept := newTestExtractor(nil, &fakeStore{})
	_, err := e.Run(context.Background(), textMonitor(), page)
	var navErr *browser.NavigationError
	if !errors.As(err, &navErr) || navErr.Code != "net::ERR_NAME_NOT_RESOLVED" {
		t.Fatalf("err = %v", err)
	}
	if len(*slept) != 0 || len(page.navWaits) != 1 {
		t.Errorf("permanent error retried: slept=%v navs=%d", *slept, len(page.navWaits))
	}
}

func TestNavigateFallsBackToLenientWait(t *testing.T) {
	page := newFakePage()
	page.visible[".price"] = true
	page.texts[".price"] = []string{"€10"}
	page.navErrs = []error{&browser.NavigationError{Code: browser.CodeTimeout, Err: context.DeadlineExceeded}}

	e, slept := newTestExtractor(nil, &fakeStore{})
	if _, err := e.Run(context.Background(), textMonitor(), page); err != nil {
		t.Fatal(err)
	}
	if len(page.navWaits) != 2 || page.navWaits[0] != browser.WaitLoad || page.navWaits[1] != browser.WaitDOMContentLoaded {
		t.Errorf("waits = %v", page.navWaits)
	}
	if len(*slept) != 0 {
		t.Error("fallback should not count as a retry")
	}
}

func TestHealReplacesSelector(t *testing.T) {
	page := newFakePage()
	page.counts[".new-price"] = 1
	page.texts[".new-price"] = []string{"€12"}

	store := &fakeStore{}
	ai := &fakeAI{selector: ".new-price"}
	e, _ := newTestExtractor(ai, store)

	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Healed != ".new-price" || res.Value == nil || *res.Value != "€12" {
		t.Fatalf("res = %+v", res)
	}
	if store.selector != ".new-price" || store.healedAt.IsZero() {
		t.Errorf("store = %+v", store)
	}
}

func TestHealRejectsUnverifiedSelector(t *testing.T) {
	page := newFakePage()
	store := &fakeStore{}
	e, _ := newTestExtractor(&fakeAI{selector: ".hallucinated"}, store)

	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != nil || res.Healed != "" || store.selector != "" {
		t.Errorf("unverified selector was used: res=%+v store=%+v", res, store)
	}
}

func TestHealStoresPendingSelectorWithoutText(t *testing.T) {
	page := newFakePage()
	page.counts[".new-price"] = 1

	store := &fakeStore{}
	e, _ := newTestExtractor(&fakeAI{selector: ".new-price"}, store)

	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != nil || res.Healed != "" {
		t.Errorf("res = %+v", res)
	}
	if store.pending != ".new-price" || store.selector != "" {
		t.Errorf("store = %+v", store)
	}
}

func TestHealSkippedWithoutAI(t *testing.T) {
	page := newFakePage()
	e, _ := newTestExtractor(nil, &fakeStore{})

	res, err := e.Run(context.Background(), textMonitor(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != nil {
		t.Error("missing selector without AI should give nil value")
	}
}

func TestVisualModeAlwaysScreenshots(t *testing.T) {
	page := newFakePage()
	page.texts["body"] = []string{"whole page"}

	shots := &fakeShots{}
	e := New(config.ExtractionConfig{}, nil, &fakeStore{}, shots)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	m := &models.Monitor{ID: 1, URL: "https://x.example", Mode: models.ModeVisual}
	res, err := e.Run(context.Background(), m, page)
	if err != nil {
		t.Fatal(err)
	}
	if res.ScreenshotPath != "/shots/1_1.png" || shots.saved != 1 {
		t.Errorf("screenshot not saved: %+v", res)
	}
	if res.Value == nil || *res.Value != "whole page" {
		t.Errorf("Value = %v", res.Value)
	}
}

func TestScenarioSkipsFailingSteps(t *testing.T) {
	page := newFakePage()
	page.visible[".price"] = true
	page.texts[".price"] = []string{"€10"}

	m := textMonitor()
	m.Scenario = []models.ScenarioStep{
		{Action: models.ActionClick, Selector: "#missing"},
		{Action: models.ActionClick, Selector: "#accept"},
		{Action: models.ActionType, Selector: "#zip", Value: "10115"},
		{Action: models.ActionKey, Value: "Enter"},
		{Action: models.ActionWait, Value: "1500"},
		{Action: models.ActionScroll},
	}

	e, slept := newTestExtractor(nil, &fakeStore{})
	if _, err := e.Run(context.Background(), m, page); err != nil {
		t.Fatal(err)
	}
	if len(page.clicks) != 1 || page.clicks[0] != "#accept" {
		t.Errorf("clicks = %v", page.clicks)
	}
	if len(page.typed) != 1 || page.typed[0] != "#zip=10115" {
		t.Errorf("typed = %v", page.typed)
	}
	if len(page.keys) != 1 || page.keys[0] != "Enter" {
		t.Errorf("keys = %v", page.keys)
	}
	if len(page.scrolled) != 1 || page.scrolled[0] != defaultScroll {
		t.Errorf("scrolled = %v", page.scrolled)
	}
	if len(*slept) == 0 || (*slept)[0] != 1500*time.Millisecond {
		t.Errorf("slept = %v", *slept)
	}
}

func TestParseWait(t *testing.T) {
	tests := map[string]time.Duration{
		"":      time.Second,
		"250":   250 * time.Millisecond,
		"2s":    2 * time.Second,
		"bogus": time.Second,
		"10m":   maxWait,
		"-5":    0,
	}
	for in, want := range tests {
		if got := parseWait(in); got != want {
			t.Errorf("parseWait(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBackoff(t *testing.T) {
	if got := backoff(2*time.Second, 1); got != 2*time.Second {
		t.Errorf("attempt 1 = %v", got)
	}
	if got := backoff(2*time.Second, 3); got != 8*time.Second {
		t.Errorf("attempt 3 = %v", got)
	}
	if got := backoff(30*time.Second, 5); got != maxRetryDelay {
		t.Errorf("capped = %v", got)
	}
}
