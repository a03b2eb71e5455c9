package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/lance13c/deltawatch/internal/detector"
	"github.com/lance13c/deltawatch/internal/extractor"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/lance13c/deltawatch/internal/models"
	"github.com/lance13c/deltawatch/internal/notify"
)

// persistTimeout bounds the writes that record a check, which still run
// when the check itself was cancelled
const persistTimeout = 10 * time.Second

// check runs the full pipeline for one monitor and records the outcome.
// A panic is recovered and recorded like any other failure.
func (s *Scheduler) check(ctx context.Context, session Session, m *models.Monitor) (err error) {
	runID := uuid.NewString()
	started := s.now()

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Monitor %d [%s]: panic during check: %v\n%s", m.ID, runID, r, debug.Stack())
			err = fmt.Errorf("panic during check: %v", r)
			s.recordFailure(ctx, m, runID, err)
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, s.opts.CheckTimeout)
	defer cancel()

	logging.Info("Monitor %d [%s]: checking %s", m.ID, runID, m.URL)

	page, err := session.NewPage(checkCtx)
	if err != nil {
		s.recordFailure(ctx, m, runID, err)
		return err
	}
	defer page.Close()

	res, err := s.deps.Extractor.Run(checkCtx, m, page)
	if err != nil {
		logging.Error("Monitor %d [%s]: extraction failed: %v", m.ID, runID, err)
		s.recordFailure(ctx, m, runID, err)
		return err
	}

	if res.Healed != "" {
		s.deps.Notifier.Send(ctx, notify.RepairMessage(m, runID, m.Selector, res.Healed))
		m.Selector = res.Healed
	}
	if notify.IsDowntime(res.HTTPStatus) {
		s.deps.Notifier.Send(ctx, notify.DowntimeMessage(m, runID, res.HTTPStatus))
	}

	if !m.HasBaseline() {
		return s.recordBaseline(ctx, m, runID, res)
	}

	det, err := s.deps.Detector.Compare(checkCtx, detector.Input{
		Monitor:        m,
		PrevValue:      m.LastValue,
		PrevScreenshot: m.LastScreenshot,
		NewValue:       res.Value,
		NewScreenshot:  res.ScreenshotPath,
	})
	if err != nil {
		s.deps.Files.RemoveQuietly(res.ScreenshotPath)
		s.recordFailure(ctx, m, runID, err)
		return err
	}

	if err := s.recordComparison(ctx, m, runID, res, det); err != nil {
		return err
	}

	for _, alert := range notify.KeywordAlerts(m.Keywords, m.LastValue, res.Value) {
		s.deps.Notifier.Send(ctx, notify.KeywordMessage(m, runID, alert))
	}

	if det.Changed() && notify.ShouldNotify(m, res.Value, det.AISummary) {
		s.deps.Notifier.Send(ctx, notify.ChangeMessage(m, notify.ChangeDetails{
			RunID:         runID,
			NewValue:      res.Value,
			AISummary:     det.AISummary,
			WordDiff:      det.WordDiff,
			WordDiffHTML:  det.WordDiffHTML,
			DiffImagePath: det.DiffImagePath,
			Visual:        m.Mode == models.ModeVisual,
		}))
	}

	logging.Info("Monitor %d [%s]: done in %s (changed=%v)", m.ID, runID, s.now().Sub(started).Round(time.Millisecond), det.Changed())
	return nil
}

// recordBaseline stores the first observation without counting it as a change
func (s *Scheduler) recordBaseline(ctx context.Context, m *models.Monitor, runID string, res *extractor.Result) error {
	now := s.now()
	rec := &models.CheckHistoryRecord{
		MonitorID:  m.ID,
		RunID:      runID,
		Status:     models.StatusUnchanged,
		Value:      res.Value,
		Screenshot: res.ScreenshotPath,
		HTTPStatus: httpStatus(res.HTTPStatus),
		CreatedAt:  now,
	}
	upd := models.RuntimeUpdate{LastCheck: now, LastValue: res.Value}
	superseded := ""
	if res.ScreenshotPath != "" {
		upd.LastScreenshot = &res.ScreenshotPath
		superseded = m.LastScreenshot
	}

	logging.Info("Monitor %d [%s]: baseline recorded", m.ID, runID)
	return s.persist(ctx, m, rec, upd, superseded)
}

// recordComparison stores the outcome of a comparison. A confirmed change, or
// a raw change the AI judged insignificant, replaces the stored observation;
// only the confirmed change counts as a change.
func (s *Scheduler) recordComparison(ctx context.Context, m *models.Monitor, runID string, res *extractor.Result, det *detector.Result) error {
	now := s.now()
	rec := &models.CheckHistoryRecord{
		MonitorID:      m.ID,
		RunID:          runID,
		Status:         models.StatusUnchanged,
		Value:          res.Value,
		PrevScreenshot: m.LastScreenshot,
		AISummary:      det.AISummary,
		HTTPStatus:     httpStatus(res.HTTPStatus),
		CreatedAt:      now,
	}
	upd := models.RuntimeUpdate{LastCheck: now}

	replace := det.Changed() || det.AIOverride
	if det.Changed() {
		rec.Status = models.StatusChanged
		rec.Diff = det.LineDiff
		rec.DiffScreenshot = det.DiffImagePath
		upd.LastChange = &now
		upd.IncrementUnread = true
	}

	superseded := ""
	if replace {
		upd.LastValue = res.Value
		if res.ScreenshotPath != "" {
			rec.Screenshot = res.ScreenshotPath
			upd.LastScreenshot = &res.ScreenshotPath
			superseded = m.LastScreenshot
		}
	} else {
		if m.Mode == models.ModeVisual {
			// Visual monitors follow the page text without treating it as a change
			upd.LastValue = res.Value
		}
		// An identical capture is not kept
		defer s.deps.Files.RemoveQuietly(res.ScreenshotPath)
	}

	return s.persist(ctx, m, rec, upd, superseded)
}

// persist writes history first, then runtime state. LastCheck is written
// even when the history insert fails. The superseded screenshot is deleted
// only once the runtime state points at its replacement.
func (s *Scheduler) persist(ctx context.Context, m *models.Monitor, rec *models.CheckHistoryRecord, upd models.RuntimeUpdate, superseded string) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if _, err := s.deps.Store.InsertHistory(writeCtx, rec); err != nil {
		logging.Error("Monitor %d [%s]: failed to write history: %v", m.ID, rec.RunID, err)
	}

	if err := s.deps.Store.UpdateMonitorRuntimeState(writeCtx, m.ID, upd); err != nil {
		logging.Error("Monitor %d [%s]: failed to update state: %v", m.ID, rec.RunID, err)
		return fmt.Errorf("failed to update monitor state: %w", err)
	}

	if superseded != "" && (upd.LastScreenshot == nil || *upd.LastScreenshot != superseded) {
		s.deps.Files.RemoveQuietly(superseded)
	}
	return nil
}

// recordFailure writes an error history record and advances LastCheck so a
// failing monitor waits a full interval before its next attempt. The record's
// value carries the error message so history listings show it.
func (s *Scheduler) recordFailure(ctx context.Context, m *models.Monitor, runID string, cause error) {
	now := s.now()
	msg := cause.Error()
	rec := &models.CheckHistoryRecord{
		MonitorID: m.ID,
		RunID:     runID,
		Status:    models.StatusError,
		Value:     &msg,
		Error:     msg,
		CreatedAt: now,
	}
	s.persist(ctx, m, rec, models.RuntimeUpdate{LastCheck: now}, "")
}

func httpStatus(code int) *int {
	if code == 0 {
		return nil
	}
	return &code
}
