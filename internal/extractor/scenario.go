package extractor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lance13c/deltawatch/internal/browser"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/lance13c/deltawatch/internal/models"
)

const (
	defaultWait   = time.Second
	maxWait       = 30 * time.Second
	defaultScroll = 800
)

// runScenario executes the monitor's scripted steps in order. A failing step
// is logged and skipped.
func (e *Extractor) runScenario(ctx context.Context, m *models.Monitor, page browser.Page) {
	for i, step := range m.Scenario {
		if ctx.Err() != nil {
			return
		}
		if err := e.runStep(ctx, page, step); err != nil {
			logging.Warn("Monitor %d: scenario step %d (%s) failed: %v", m.ID, i+1, step.Action, err)
			continue
		}
		logging.Debug("Monitor %d: scenario step %d (%s) done", m.ID, i+1, step.Action)
	}
}

func (e *Extractor) runStep(ctx context.Context, page browser.Page, step models.ScenarioStep) error {
	if step.Action == models.ActionWait {
		return e.sleep(ctx, parseWait(step.Value))
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	switch step.Action {
	case models.ActionClick:
		return page.Click(stepCtx, step.Selector)
	case models.ActionType:
		return page.Type(stepCtx, step.Selector, step.Value)
	case models.ActionWaitSelector:
		return page.WaitVisible(stepCtx, step.Selector)
	case models.ActionScroll:
		pixels := defaultScroll
		if v := strings.TrimSpace(step.Value); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid scroll amount %q", step.Value)
			}
			pixels = n
		}
		return page.ScrollBy(stepCtx, pixels)
	case models.ActionKey:
		return page.PressKey(stepCtx, step.Value)
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

// parseWait reads a wait step value: plain milliseconds ("1500") or a
// duration ("2s"). Bad values wait one second.
func parseWait(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultWait
	}

	var d time.Duration
	if ms, err := strconv.Atoi(value); err == nil {
		d = time.Duration(ms) * time.Millisecond
	} else if parsed, err := time.ParseDuration(value); err == nil {
		d = parsed
	} else {
		return defaultWait
	}

	if d < 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}
