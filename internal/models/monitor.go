package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which comparison path a monitor runs
type Mode string

const (
	ModeText   Mode = "text"
	ModeVisual Mode = "visual"
)

// Interval is the configured check frequency
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval8h  Interval = "8h"
	Interval24h Interval = "24h"
	Interval1w  Interval = "1w"
)

// DefaultIntervalMinutes is used for interval values we do not recognize
const DefaultIntervalMinutes = 60

var intervalMinutes = map[Interval]int{
	Interval1m:  1,
	Interval5m:  5,
	Interval30m: 30,
	Interval1h:  60,
	Interval8h:  480,
	Interval24h: 1440,
	Interval1w:  10080,
}

// Minutes returns the interval length in minutes. Unknown values map to an hour.
func (i Interval) Minutes() int {
	if m, ok := intervalMinutes[i]; ok {
		return m
	}
	return DefaultIntervalMinutes
}

// Duration returns the interval as a time.Duration
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Minutes()) * time.Minute
}

// Valid reports whether the interval is one of the known values
func (i Interval) Valid() bool {
	_, ok := intervalMinutes[i]
	return ok
}

// NotifyMethod is the per-monitor notification gate
type NotifyMethod string

const (
	NotifyAll         NotifyMethod = "all"
	NotifyAIFocus     NotifyMethod = "ai_focus"
	NotifyValueLT     NotifyMethod = "value_lt"
	NotifyValueGT     NotifyMethod = "value_gt"
	NotifyContains    NotifyMethod = "contains"
	NotifyNotContains NotifyMethod = "not_contains"
)

// NotifyRule decides whether a confirmed change notifies
type NotifyRule struct {
	Method    NotifyMethod `json:"method"`
	Threshold string       `json:"threshold,omitempty"`
}

// KeywordMode selects which presence transition fires a keyword alert
type KeywordMode string

const (
	KeywordAppears    KeywordMode = "appears"
	KeywordDisappears KeywordMode = "disappears"
	KeywordAny        KeywordMode = "any"
)

// KeywordWatch is a single keyword tracked across checks
type KeywordWatch struct {
	Text string      `json:"text"`
	Mode KeywordMode `json:"mode"`
}

// ScenarioAction is a scripted interaction step type
type ScenarioAction string

const (
	ActionWait         ScenarioAction = "wait"
	ActionClick        ScenarioAction = "click"
	ActionType         ScenarioAction = "type"
	ActionWaitSelector ScenarioAction = "wait_selector"
	ActionScroll       ScenarioAction = "scroll"
	ActionKey          ScenarioAction = "key"
)

// ScenarioStep is one scripted step run before extraction
type ScenarioStep struct {
	Action   ScenarioAction `json:"action"`
	Selector string         `json:"selector,omitempty"`
	Value    string         `json:"value,omitempty"`
}

// Monitor is a user's watch target plus the runtime state the pipeline owns
type Monitor struct {
	ID      int64
	OwnerID string
	Name    string

	// Configuration
	URL        string
	Mode       Mode
	Selector   string
	Scenario   []ScenarioStep
	Interval   Interval
	NotifyRule NotifyRule
	AIPrompt   string
	AIOnly     bool
	Keywords   []KeywordWatch
	RetryCount int
	RetryDelay time.Duration
	Tags       []string
	Active     bool
	CreatedAt  time.Time

	// Runtime state, written only by the check pipeline
	LastCheck       *time.Time
	LastValue       *string
	LastScreenshot  string
	LastChange      *time.Time
	UnreadCount     int
	LastHealed      *time.Time
	PendingSelector string
}

// IsWholePage reports whether the locator targets the entire page
func (m *Monitor) IsWholePage() bool {
	sel := strings.TrimSpace(m.Selector)
	return sel == "" || strings.EqualFold(sel, "body")
}

// NextCheck returns when the monitor becomes due. Never-checked monitors are due immediately.
func (m *Monitor) NextCheck() time.Time {
	if m.LastCheck == nil {
		return time.Time{}
	}
	return m.LastCheck.Add(m.Interval.Duration())
}

// IsDue reports whether the monitor should be checked at now
func (m *Monitor) IsDue(now time.Time) bool {
	if !m.Active {
		return false
	}
	if m.LastCheck == nil {
		return true
	}
	return !now.Before(m.NextCheck())
}

// HasBaseline reports whether a previous observation exists for the monitor's mode.
// The first check for a monitor only records state.
func (m *Monitor) HasBaseline() bool {
	if m.Mode == ModeVisual {
		return m.LastScreenshot != ""
	}
	return m.LastValue != nil
}

// DisplayName returns the name or, failing that, the URL
func (m *Monitor) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.URL
}

// Validate checks the configuration part of a monitor
func (m *Monitor) Validate() error {
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("monitor url is required")
	}
	if !strings.HasPrefix(m.URL, "http://") && !strings.HasPrefix(m.URL, "https://") {
		return fmt.Errorf("monitor url must be http(s): %s", m.URL)
	}
	switch m.Mode {
	case ModeText, ModeVisual:
	default:
		return fmt.Errorf("unknown extraction mode %q", m.Mode)
	}
	switch m.NotifyRule.Method {
	case "", NotifyAll, NotifyAIFocus, NotifyValueLT, NotifyValueGT, NotifyContains, NotifyNotContains:
	default:
		return fmt.Errorf("unknown notify method %q", m.NotifyRule.Method)
	}
	for i, step := range m.Scenario {
		switch step.Action {
		case ActionWait, ActionClick, ActionType, ActionWaitSelector, ActionScroll, ActionKey:
		default:
			return fmt.Errorf("scenario step %d: unknown action %q", i, step.Action)
		}
	}
	for i, kw := range m.Keywords {
		if strings.TrimSpace(kw.Text) == "" {
			return fmt.Errorf("keyword %d: text is required", i)
		}
		switch kw.Mode {
		case KeywordAppears, KeywordDisappears, KeywordAny:
		default:
			return fmt.Errorf("keyword %d: unknown mode %q", i, kw.Mode)
		}
	}
	return nil
}

// DueSet filters monitors down to those due at now, preserving order
func DueSet(monitors []*Monitor, now time.Time) []*Monitor {
	var due []*Monitor
	for _, m := range monitors {
		if m.IsDue(now) {
			due = append(due, m)
		}
	}
	return due
}
