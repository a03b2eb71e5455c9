package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lance13c/deltawatch/internal/browser"
	"github.com/lance13c/deltawatch/internal/database"
	"github.com/lance13c/deltawatch/internal/detector"
	"github.com/lance13c/deltawatch/internal/extractor"
	"github.com/lance13c/deltawatch/internal/models"
	"github.com/lance13c/deltawatch/internal/notify"
)

type fakeStore struct {
	mu         sync.Mutex
	monitors   map[int64]*models.Monitor
	history    []models.CheckHistoryRecord
	updates    []models.RuntimeUpdate
	historyErr error
	claimed    map[int64]bool
}

func newFakeStore(monitors ...*models.Monitor) *fakeStore {
	s := &fakeStore{monitors: map[int64]*models.Monitor{}, claimed: map[int64]bool{}}
	for _, m := range monitors {
		s.monitors[m.ID] = m
	}
	return s
}

func (s *fakeStore) GetDueMonitors(ctx context.Context, now time.Time) ([]*models.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Monitor
	for id := int64(1); id <= int64(len(s.monitors)); id++ {
		if m, ok := s.monitors[id]; ok {
			all = append(all, m)
		}
	}
	return models.DueSet(all, now), nil
}

func (s *fakeStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return nil, errors.New("monitor not found")
	}
	return m, nil
}

func (s *fakeStore) InsertHistory(ctx context.Context, rec *models.CheckHistoryRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return 0, s.historyErr
	}
	s.history = append(s.history, *rec)
	return int64(len(s.history)), nil
}

func (s *fakeStore) UpdateMonitorRuntimeState(ctx context.Context, id int64, upd models.RuntimeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, upd)
	m := s.monitors[id]
	if m.LastCheck == nil || m.LastCheck.Before(upd.LastCheck) {
		t := upd.LastCheck
		m.LastCheck = &t
	}
	if upd.LastValue != nil {
		v := *upd.LastValue
		m.LastValue = &v
	}
	if upd.LastScreenshot != nil {
		m.LastScreenshot = *upd.LastScreenshot
	}
	if upd.LastChange != nil {
		m.LastChange = upd.LastChange
	}
	if upd.IncrementUnread {
		m.UnreadCount++
	}
	return nil
}

func (s *fakeStore) ClaimCheck(ctx context.Context, id int64, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[id] {
		return false, nil
	}
	s.claimed[id] = true
	return true, nil
}

func (s *fakeStore) ReleaseCheck(ctx context.Context, id int64) error {
	s.mu.Lock()
	delete(s.claimed, id)
	s.mu.Unlock()
	return nil
}

type fakePage struct{ closed bool }

func (p *fakePage) Navigate(context.Context, string, browser.WaitCondition) (int, error) { return 200, nil }
func (p *fakePage) WaitVisible(context.Context, string) error                           { return nil }
func (p *fakePage) WaitAttached(context.Context, string) error                          { return nil }
func (p *fakePage) ScrollIntoView(context.Context, string) error                        { return nil }
func (p *fakePage) Text(context.Context, string) (string, error)                        { return "", nil }
func (p *fakePage) Count(context.Context, string) (int, error)                          { return 0, nil }
func (p *fakePage) Click(context.Context, string) error                                 { return nil }
func (p *fakePage) Type(context.Context, string, string) error                          { return nil }
func (p *fakePage) PressKey(context.Context, string) error                              { return nil }
func (p *fakePage) ScrollBy(context.Context, int) error                                 { return nil }
func (p *fakePage) HTML(context.Context) (string, error)                                { return "", nil }
func (p *fakePage) Screenshot(context.Context) ([]byte, error)                          { return nil, nil }
func (p *fakePage) DismissOverlays(context.Context) (int, error)                        { return 0, nil }
func (p *fakePage) Close() error                                                        { p.closed = true; return nil }

type fakeSession struct {
	pages    []*fakePage
	released bool
}

func (s *fakeSession) NewPage(ctx context.Context) (browser.Page, error) {
	p := &fakePage{}
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *fakeSession) Release() { s.released = true }

type fakeBrowsers struct {
	sessions []*fakeSession
	err      error
}

func (b *fakeBrowsers) Acquire(ctx context.Context) (Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	s := &fakeSession{}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// fakeExtractor returns scripted results per monitor id
type fakeExtractor struct {
	results map[int64]*extractor.Result
	errs    map[int64]error
	panics  map[int64]bool
	calls   []int64
	block   chan struct{}
	// during runs while the monitor's page is open
	during map[int64]func(ctx context.Context)
	// value, when set, is returned for every monitor without a scripted result
	value *string
}

func (e *fakeExtractor) Run(ctx context.Context, m *models.Monitor, page browser.Page) (*extractor.Result, error) {
	e.calls = append(e.calls, m.ID)
	if e.block != nil {
		<-e.block
	}
	if fn := e.during[m.ID]; fn != nil {
		fn(ctx)
	}
	if e.panics[m.ID] {
		panic("boom")
	}
	if err := e.errs[m.ID]; err != nil {
		return nil, err
	}
	if res, ok := e.results[m.ID]; ok {
		return res, nil
	}
	if e.value != nil {
		v := *e.value
		return &extractor.Result{Value: &v, HTTPStatus: 200}, nil
	}
	return &extractor.Result{HTTPStatus: 200}, nil
}

type fakeDetector struct {
	result *detector.Result
}

func (d *fakeDetector) Compare(ctx context.Context, in detector.Input) (*detector.Result, error) {
	return d.result, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *fakeNotifier) Send(ctx context.Context, msg notify.Message) {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
}

func (n *fakeNotifier) kinds() []string {
	var kinds []string
	for _, m := range n.sent {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}

type fakeFiles struct{ removed []string }

func (f *fakeFiles) RemoveQuietly(path string) {
	if path != "" {
		f.removed = append(f.removed, path)
	}
}

type harness struct {
	store    *fakeStore
	browsers *fakeBrowsers
	ext      *fakeExtractor
	notifier *fakeNotifier
	files    *fakeFiles
	sched    *Scheduler
}

func newHarness(det Detector, monitors ...*models.Monitor) *harness {
	h := newHarnessWithStore(det, newFakeStore(monitors...))
	h.store = h.sched.deps.Store.(*fakeStore)
	return h
}

func newHarnessWithStore(det Detector, store Store) *harness {
	h := &harness{
		browsers: &fakeBrowsers{},
		ext: &fakeExtractor{
			results: map[int64]*extractor.Result{},
			errs:    map[int64]error{},
			panics:  map[int64]bool{},
			during:  map[int64]func(ctx context.Context){},
		},
		notifier: &fakeNotifier{},
		files:    &fakeFiles{},
	}
	if det == nil {
		det = detector.New(nil)
	}
	h.sched = New(Deps{
		Store:     store,
		Browsers:  h.browsers,
		Extractor: h.ext,
		Detector:  det,
		Notifier:  h.notifier,
		Files:     h.files,
	}, Options{})
	return h
}

func strp(s string) *string { return &s }

func priceMonitor(id int64) *models.Monitor {
	return &models.Monitor{
		ID:         id,
		Name:       "Price",
		URL:        "https://shop.example/item",
		Mode:       models.ModeText,
		Selector:   ".price",
		Interval:   models.Interval1h,
		NotifyRule: models.NotifyRule{Method: models.NotifyAll},
		Active:     true,
	}
}

func TestPriceChangeIsRecordedAndNotified(t *testing.T) {
	m := priceMonitor(1)
	m.LastValue = strp("€10")
	h := newHarness(nil, m)
	h.ext.results[1] = &extractor.Result{Value: strp("€12"), HTTPStatus: 200}

	if err := h.sched.CheckOne(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if len(h.store.history) != 1 {
		t.Fatalf("history = %d records", len(h.store.history))
	}
	rec := h.store.history[0]
	if rec.Status != models.StatusChanged || rec.RunID == "" {
		t.Errorf("record = %+v", rec)
	}
	if !strings.Contains(rec.Diff, "- €10") || !strings.Contains(rec.Diff, "+ €12") {
		t.Errorf("line diff = %q", rec.Diff)
	}

	if *m.LastValue != "€12" || m.LastChange == nil || m.UnreadCount != 1 || m.LastCheck == nil {
		t.Errorf("runtime state = value %v change %v unread %d", *m.LastValue, m.LastChange, m.UnreadCount)
	}

	if len(h.notifier.sent) != 1 || h.notifier.sent[0].Kind != notify.KindChange {
		t.Fatalf("notifications = %v", h.notifier.kinds())
	}
	msg := h.notifier.sent[0]
	if msg.DiffText != "[-€10-]{+€12+}" {
		t.Errorf("notification diff = %q", msg.DiffText)
	}
	if msg.RunID != rec.RunID {
		t.Error("notification and history should share the run id")
	}
}

func TestFirstRunRecordsBaseline(t *testing.T) {
	m := priceMonitor(1)
	h := newHarness(nil, m)
	h.ext.results[1] = &extractor.Result{Value: strp("€10"), HTTPStatus: 200}

	if err := h.sched.CheckOne(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if len(h.store.history) != 1 || h.store.history[0].Status != models.StatusUnchanged {
		t.Fatalf("history = %+v", h.store.history)
	}
	if m.LastValue == nil || *m.LastValue != "€10" {
		t.Errorf("baseline value = %v", m.LastValue)
	}
	if m.LastChange != nil || m.UnreadCount != 0 {
		t.Error("baseline must not count as a change")
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("baseline notified: %v", h.notifier.kinds())
	}
}

func TestUnchangedValue(t *testing.T) {
	m := priceMonitor(1)
	m.LastValue = strp("€10")
	h := newHarness(nil, m)
	h.ext.results[1] = &extractor.Result{Value: strp("€10"), HTTPStatus: 200}

	h.sched.CheckOne(context.Background(), 1)

	if h.store.history[0].Status != models.StatusUnchanged {
		t.Errorf("status = %s", h.store.history[0].Status)
	}
	if m.LastCheck == nil || m.UnreadCount != 0 || len(h.notifier.sent) != 0 {
		t.Error("unchanged check should only advance LastCheck")
	}
}

func TestNotifyRuleGatesChangeMessage(t *testing.T) {
	m := priceMonitor(1)
	m.LastValue = strp("€120")
	m.NotifyRule = models.NotifyRule{Method: models.NotifyValueLT, Threshold: "100"}
	h := newHarness(nil, m)
	h.ext.results[1] = &extractor.Result{Value: strp("€110"), HTTPStatus: 200}

	h.sched.CheckOne(context.Background(), 1)
	if len(h.notifier.sent) != 0 {
		t.Errorf("value above threshold notified: %v", h.notifier.kinds())
	}
	if m.UnreadCount != 1 {
		t.Error("change should still be recorded when the rule suppresses the notification")
	}

	h.ext.results[1] = &extractor.Result{Value: strp("€90"), HTTPStatus: 200}
	h.sched.CheckOne(context.Background(), 1)
	if len(h.notifier.sent) != 1 {
		t.Errorf("value below threshold did not notify: %v", h.notifier.kinds())
	}
}

func TestKeywordAndDowntimeAlerts(t *testing.T) {
	m := priceMonitor(1)
	m.LastValue = strp("In stock")
	m.Keywords = []models.KeywordWatch{{Text: "sold out", Mode: models.KeywordAppears}}
	m.NotifyRule = models.NotifyRule{Method: models.NotifyContains, Threshold: "in stock"}
	h := newHarness(nil, m)
	h.ext.results[1] = &extractor.Result{Value: strp("Sold out"), HTTPStatus: 503}

	h.sched.CheckOne(context.Background(), 1)

	kinds := strings.Join(h.notifier.kinds(), ",")
	if kinds != notify.KindDowntime+","+notify.KindKeyword {
		t.Errorf("notifications = %s", kinds)
	}
	if h.store.history[0].HTTPStatus == nil || *h.store.history[0].HTTPStatus != 503 {
		t.Error("http status not recorded")
	}
}

func TestHealedSelectorSendsRepair(t *testing.T) {
	m := priceMonitor(1)
	m.LastValue = strp("€10")
	h := newHarness(nil, m)
	h.ext.results[1] = &extractor.Result{Value: strp("€10"), HTTPStatus: 200, Healed: ".new-price"}

	h.sched.CheckOne(context.Background(), 1)

	if len(h.notifier.sent) != 1 || h.notifier.sent[0].Kind != notify.KindRepair {
		t.Fatalf("notifications = %v", h.notifier.kinds())
	}
	if !strings.Contains(h.notifier.sent[0].Text, ".price") || !strings.Contains(h.notifier.sent[0].Text, ".new-price") {
		t.Errorf("repair text = %q", h.notifier.sent[0].Text)
	}
}

func TestExtractionFailureAdvancesLastCheck(t *testing.T) {
	m := priceMonitor(1)
	m.LastValue = strp("€10")
	h := newHarness(nil, m)
	h.ext.errs[1] = &browser.NavigationError{URL: m.URL, Code: "net::ERR_NAME_NOT_RESOLVED"}

	err := h.sched.CheckOne(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(h.store.history) != 1 || h.store.history[0].Status != models.StatusError {
		t.Fatalf("history = %+v", h.store.history)
	}
	if !strings.Contains(h.store.history[0].Error, "ERR_NAME_NOT_RESOLVED") {
		t.Errorf("error message = %q", h.store.history[0].Error)
	}
	if v := h.store.history[0].Value; v == nil || *v != h.store.history[0].Error {
		t.Errorf("error record value = %v, want the error message", v)
	}
	if m.LastCheck == nil {
		t.Error("LastCheck not advanced after failure")
	}
	if *m.LastValue != "€10" {
		t.Error("failure must not touch the stored value")
	}
}

func TestHistoryFailureStillWritesLastCheck(t *testing.T) {
	m := priceMonitor(1)
	h := newHarness(nil, m)
	h.store.historyErr = errors.New("disk full")
	h.ext.results[1] = &extractor.Result{Value: strp("€10"), HTTPStatus: 200}

	if err := h.sched.CheckOne(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if m.LastCheck == nil {
		t.Error("LastCheck not written after failed history insert")
	}
}

func TestVisualChangeDeletesSupersededScreenshot(t *testing.T) {
	m := priceMonitor(1)
	m.Mode = models.ModeVisual
	m.LastScreenshot = "/shots/1_100.png"
	det := &fakeDetector{result: &detector.Result{VisualChanged: true, DiffImagePath: "/shots/1_200_diff.png"}}
	h := newHarness(det, m)
	h.ext.results[1] = &extractor.Result{ScreenshotPath: "/shots/1_200.png", HTTPStatus: 200}

	h.sched.CheckOne(context.Background(), 1)

	if m.LastScreenshot != "/shots/1_200.png" {
		t.Errorf("LastScreenshot = %q", m.LastScreenshot)
	}
	if len(h.files.removed) != 1 || h.files.removed[0] != "/shots/1_100.png" {
		t.Errorf("removed = %v", h.files.removed)
	}
	rec := h.store.history[0]
	if rec.PrevScreenshot != "/shots/1_100.png" || rec.DiffScreenshot != "/shots/1_200_diff.png" {
		t.Errorf("record = %+v", rec)
	}
}

func TestVisualUnchangedDropsNewCapture(t *testing.T) {
	m := priceMonitor(1)
	m.Mode = models.ModeVisual
	m.LastScreenshot = "/shots/1_100.png"
	h := newHarness(&fakeDetector{result: &detector.Result{}}, m)
	h.ext.results[1] = &extractor.Result{ScreenshotPath: "/shots/1_200.png", HTTPStatus: 200}

	h.sched.CheckOne(context.Background(), 1)

	if m.LastScreenshot != "/shots/1_100.png" {
		t.Errorf("baseline screenshot replaced: %q", m.LastScreenshot)
	}
	if len(h.files.removed) != 1 || h.files.removed[0] != "/shots/1_200.png" {
		t.Errorf("removed = %v", h.files.removed)
	}
}

func TestTickSharesOneLease(t *testing.T) {
	h := newHarness(nil, priceMonitor(1), priceMonitor(2), priceMonitor(3))
	h.store.monitors[3].Active = false

	if err := h.sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.browsers.sessions) != 1 || !h.browsers.sessions[0].released {
		t.Fatalf("sessions = %+v", h.browsers.sessions)
	}
	if len(h.ext.calls) != 2 || h.ext.calls[0] != 1 || h.ext.calls[1] != 2 {
		t.Errorf("checked = %v", h.ext.calls)
	}
	for _, p := range h.browsers.sessions[0].pages {
		if !p.closed {
			t.Error("page left open")
		}
	}
}

func TestTickWithNothingDueSkipsBrowser(t *testing.T) {
	m := priceMonitor(1)
	now := time.Now()
	m.LastCheck = &now
	h := newHarness(nil, m)

	if err := h.sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.browsers.sessions) != 0 {
		t.Error("browser acquired with nothing due")
	}
}

func TestTickContainsPanics(t *testing.T) {
	h := newHarness(nil, priceMonitor(1), priceMonitor(2))
	h.ext.panics[1] = true
	h.ext.results[2] = &extractor.Result{Value: strp("ok"), HTTPStatus: 200}

	if err := h.sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.ext.calls) != 2 {
		t.Errorf("panic stopped the tick: calls = %v", h.ext.calls)
	}
	m1, _ := h.store.GetMonitor(context.Background(), 1)
	if m1.LastCheck == nil {
		t.Error("panicking monitor did not advance LastCheck")
	}
	if h.store.history[0].Status != models.StatusError || !strings.Contains(h.store.history[0].Error, "boom") {
		t.Errorf("panic record = %+v", h.store.history[0])
	}
}

func TestCheckOneRejectsBusyMonitor(t *testing.T) {
	h := newHarness(nil, priceMonitor(1))
	h.store.claimed[1] = true

	err := h.sched.CheckOne(context.Background(), 1)
	if !errors.Is(err, ErrCheckInProgress) {
		t.Errorf("err = %v", err)
	}
	if len(h.ext.calls) != 0 {
		t.Error("busy monitor was checked")
	}
}

func TestTickSkipsBusyMonitor(t *testing.T) {
	h := newHarness(nil, priceMonitor(1), priceMonitor(2))
	h.store.claimed[1] = true

	h.sched.Tick(context.Background())
	if len(h.ext.calls) != 1 || h.ext.calls[0] != 2 {
		t.Errorf("checked = %v", h.ext.calls)
	}
	if !h.store.claimed[1] || h.store.claimed[2] {
		t.Errorf("claims after tick = %v", h.store.claimed)
	}
}

func openSQLiteStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "deltawatch.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedChecked stores a monitor last checked at lastCheck with value "A"
func seedChecked(t *testing.T, db *database.DB, lastCheck time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := db.CreateMonitor(ctx, priceMonitor(0))
	if err != nil {
		t.Fatal(err)
	}
	err = db.UpdateMonitorRuntimeState(ctx, id, models.RuntimeUpdate{LastCheck: lastCheck, LastValue: strp("A")})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestTickSkipsMonitorCheckedManuallyMidTick(t *testing.T) {
	db := openSQLiteStore(t)
	twoHoursAgo := time.Now().Add(-2 * time.Hour)
	first := seedChecked(t, db, twoHoursAgo)
	second := seedChecked(t, db, twoHoursAgo)

	h := newHarnessWithStore(nil, db)
	h.ext.value = strp("B")
	var manualErr error
	h.ext.during[first] = func(ctx context.Context) {
		manualErr = h.sched.CheckOne(ctx, second)
	}

	if err := h.sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if manualErr != nil {
		t.Fatalf("manual check: %v", manualErr)
	}

	ctx := context.Background()
	records, err := db.ListHistory(ctx, second, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != models.StatusChanged {
		t.Fatalf("history of monitor %d = %+v", second, records)
	}
	m, _ := db.GetMonitor(ctx, second)
	if m.UnreadCount != 1 || m.LastValue == nil || *m.LastValue != "B" {
		t.Errorf("monitor %d unread %d value %v", second, m.UnreadCount, m.LastValue)
	}

	var sent int
	for _, msg := range h.notifier.sent {
		if msg.MonitorID == second && msg.Kind == notify.KindChange {
			sent++
		}
	}
	if sent != 1 {
		t.Errorf("monitor %d change notifications = %d, want 1", second, sent)
	}
}

func TestCheckOneRespectsClaimFromAnotherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deltawatch.db")
	runner, err := database.New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer runner.Close()
	id := seedChecked(t, runner, time.Now().Add(-2*time.Hour))

	now := time.Now()
	if ok, err := runner.ClaimCheck(context.Background(), id, now, now.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("claim = %v, %v", ok, err)
	}

	oneOff, err := database.New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer oneOff.Close()
	h := newHarnessWithStore(nil, oneOff)
	h.ext.value = strp("B")

	if err := h.sched.CheckOne(context.Background(), id); !errors.Is(err, ErrCheckInProgress) {
		t.Fatalf("err = %v", err)
	}
	if len(h.ext.calls) != 0 {
		t.Error("claimed monitor was checked")
	}

	runner.ReleaseCheck(context.Background(), id)
	if err := h.sched.CheckOne(context.Background(), id); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestTickAcquireFailure(t *testing.T) {
	h := newHarness(nil, priceMonitor(1))
	h.browsers.err = browser.ErrPoolClosed

	err := h.sched.Tick(context.Background())
	if !errors.Is(err, browser.ErrPoolClosed) {
		t.Errorf("err = %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(nil)
	var ticks int
	var mu sync.Mutex
	h.sched.opts.Tick = 10 * time.Millisecond
	h.sched.opts.BeforeTick = func(ctx context.Context) {
		mu.Lock()
		ticks++
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	if err := h.sched.Run(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ticks < 2 {
		t.Errorf("ticks = %d, want at least 2", ticks)
	}
}
