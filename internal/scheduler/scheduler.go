package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lance13c/deltawatch/internal/browser"
	"github.com/lance13c/deltawatch/internal/detector"
	"github.com/lance13c/deltawatch/internal/extractor"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/lance13c/deltawatch/internal/models"
	"github.com/lance13c/deltawatch/internal/notify"
)

// ErrCheckInProgress is returned by CheckOne when the monitor is already being checked
var ErrCheckInProgress = errors.New("check already in progress")

// Store is the persistence the scheduler needs
type Store interface {
	GetDueMonitors(ctx context.Context, now time.Time) ([]*models.Monitor, error)
	GetMonitor(ctx context.Context, id int64) (*models.Monitor, error)
	InsertHistory(ctx context.Context, rec *models.CheckHistoryRecord) (int64, error)
	UpdateMonitorRuntimeState(ctx context.Context, id int64, upd models.RuntimeUpdate) error
	// ClaimCheck and ReleaseCheck guard a monitor across processes
	ClaimCheck(ctx context.Context, id int64, now, until time.Time) (bool, error)
	ReleaseCheck(ctx context.Context, id int64) error
}

// Session is a leased browsing context
type Session interface {
	NewPage(ctx context.Context) (browser.Page, error)
	Release()
}

// Browsers hands out sessions
type Browsers interface {
	Acquire(ctx context.Context) (Session, error)
}

// Extractor reads a monitor's target from a page
type Extractor interface {
	Run(ctx context.Context, m *models.Monitor, page browser.Page) (*extractor.Result, error)
}

// Detector compares observations
type Detector interface {
	Compare(ctx context.Context, in detector.Input) (*detector.Result, error)
}

// FileRemover deletes superseded artifacts
type FileRemover interface {
	RemoveQuietly(path string)
}

// Deps are the collaborators of a Scheduler
type Deps struct {
	Store     Store
	Browsers  Browsers
	Extractor Extractor
	Detector  Detector
	Notifier  notify.Sender
	Files     FileRemover
}

// Options tune the scheduler loop
type Options struct {
	// Tick is the interval between due-set scans
	Tick time.Duration
	// CheckTimeout bounds one monitor's pipeline
	CheckTimeout time.Duration
	// BeforeTick runs at the start of every tick, e.g. to pick up settings changes
	BeforeTick func(ctx context.Context)
}

// Scheduler runs due checks and manual triggers
type Scheduler struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a scheduler
func New(deps Deps, opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Minute
	}
	return &Scheduler{
		deps: deps,
		opts: opts,
		now:  time.Now,
	}
}

// Run ticks until ctx is done. Ticks run synchronously and never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	logging.Info("Scheduler started (tick %s)", s.opts.Tick)

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			logging.Error("Tick failed: %v", err)
		}

		select {
		case <-ctx.Done():
			logging.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick checks every due monitor sequentially on one shared browser lease.
// Per-monitor failures are recorded and do not stop the tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.opts.BeforeTick != nil {
		s.opts.BeforeTick(ctx)
	}

	due, err := s.deps.Store.GetDueMonitors(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to load due monitors: %w", err)
	}
	if len(due) == 0 {
		logging.Debug("No monitors due")
		return nil
	}
	logging.Info("%d monitor(s) due", len(due))

	session, err := s.deps.Browsers.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire browser: %w", err)
	}
	defer session.Release()

	for _, m := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.checkDue(ctx, session, m.ID)
	}
	return nil
}

// checkDue claims a monitor from the due list and checks it if it is still
// due. The list is a snapshot; a manual check may have run since it was read.
func (s *Scheduler) checkDue(ctx context.Context, session Session, id int64) {
	ok, err := s.claim(ctx, id)
	if err != nil {
		logging.Error("Monitor %d: %v", id, err)
		return
	}
	if !ok {
		logging.Info("Monitor %d: skipped, a check is already running", id)
		return
	}
	defer s.release(ctx, id)

	m, err := s.deps.Store.GetMonitor(ctx, id)
	if err != nil {
		logging.Error("Monitor %d: failed to reload: %v", id, err)
		return
	}
	if !m.IsDue(s.now()) {
		logging.Debug("Monitor %d: no longer due", id)
		return
	}
	s.check(ctx, session, m)
}

// CheckOne runs the pipeline for one monitor immediately, on its own lease
func (s *Scheduler) CheckOne(ctx context.Context, id int64) error {
	ok, err := s.claim(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("monitor %d: %w", id, ErrCheckInProgress)
	}
	defer s.release(ctx, id)

	m, err := s.deps.Store.GetMonitor(ctx, id)
	if err != nil {
		return err
	}

	session, err := s.deps.Browsers.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire browser: %w", err)
	}
	defer session.Release()

	return s.check(ctx, session, m)
}

// PoolBrowsers adapts a browser pool to Browsers
type PoolBrowsers struct {
	Pool *browser.Pool
}

func (p PoolBrowsers) Acquire(ctx context.Context) (Session, error) {
	lease, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return lease, nil
}
