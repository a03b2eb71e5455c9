package models

import (
	"testing"
	"time"
)

func TestIntervalMinutes(t *testing.T) {
	tests := []struct {
		interval Interval
		want     int
	}{
		{Interval1m, 1},
		{Interval5m, 5},
		{Interval30m, 30},
		{Interval1h, 60},
		{Interval8h, 480},
		{Interval24h, 1440},
		{Interval1w, 10080},
		{Interval("2d"), 60},
		{Interval(""), 60},
	}

	for _, tt := range tests {
		if got := tt.interval.Minutes(); got != tt.want {
			t.Errorf("Interval(%q).Minutes() = %d, want %d", tt.interval, got, tt.want)
		}
	}
}

func TestIsDue_InactiveNeverDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	longAgo := now.Add(-365 * 24 * time.Hour)

	for _, last := range []*time.Time{nil, &longAgo, &now} {
		for interval := range intervalMinutes {
			m := &Monitor{Active: false, Interval: interval, LastCheck: last}
			if m.IsDue(now) {
				t.Fatalf("inactive monitor reported due (interval=%s last=%v)", interval, last)
			}
		}
	}
}

func TestIsDue_NeverCheckedAlwaysDue(t *testing.T) {
	now := time.Now()
	for interval := range intervalMinutes {
		m := &Monitor{Active: true, Interval: interval}
		if !m.IsDue(now) {
			t.Fatalf("never-checked monitor with interval %s not due", interval)
		}
	}
}

func TestIsDue_ExactIntervalBoundary(t *testing.T) {
	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &Monitor{Active: true, Interval: Interval1h, LastCheck: &checked}

	if m.IsDue(checked.Add(59*time.Minute + 59*time.Second)) {
		t.Error("monitor due before interval elapsed")
	}
	if !m.IsDue(checked.Add(time.Hour)) {
		t.Error("monitor not due at exactly last_check + interval")
	}
	if got := m.NextCheck(); !got.Equal(checked.Add(time.Hour)) {
		t.Errorf("NextCheck() = %v, want %v", got, checked.Add(time.Hour))
	}
}

func TestDueSet(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Minute)

	monitors := []*Monitor{
		{ID: 1, Active: true, Interval: Interval1h},
		{ID: 2, Active: true, Interval: Interval1h, LastCheck: &recent},
		{ID: 3, Active: false, Interval: Interval1m},
		{ID: 4, Active: true, Interval: Interval1m, LastCheck: &recent},
	}

	due := DueSet(monitors, now)
	if len(due) != 2 || due[0].ID != 1 || due[1].ID != 4 {
		t.Fatalf("DueSet returned %v", ids(due))
	}
}

func TestHasBaseline(t *testing.T) {
	v := "x"
	if (&Monitor{Mode: ModeText}).HasBaseline() {
		t.Error("text monitor without value has baseline")
	}
	if !(&Monitor{Mode: ModeText, LastValue: &v}).HasBaseline() {
		t.Error("text monitor with value lacks baseline")
	}
	if (&Monitor{Mode: ModeVisual, LastValue: &v}).HasBaseline() {
		t.Error("visual monitor without screenshot has baseline")
	}
	if !(&Monitor{Mode: ModeVisual, LastScreenshot: "a.png"}).HasBaseline() {
		t.Error("visual monitor with screenshot lacks baseline")
	}
}

func TestValidate(t *testing.T) {
	good := &Monitor{URL: "https://example.com", Mode: ModeText, NotifyRule: NotifyRule{Method: NotifyAll}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid monitor rejected: %v", err)
	}

	bad := []*Monitor{
		{URL: "", Mode: ModeText},
		{URL: "ftp://example.com", Mode: ModeText},
		{URL: "https://example.com", Mode: "pdf"},
		{URL: "https://example.com", Mode: ModeText, NotifyRule: NotifyRule{Method: "sometimes"}},
		{URL: "https://example.com", Mode: ModeText, Scenario: []ScenarioStep{{Action: "dance"}}},
		{URL: "https://example.com", Mode: ModeText, Keywords: []KeywordWatch{{Text: "sale", Mode: "maybe"}}},
	}
	for i, m := range bad {
		if err := m.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func ids(ms []*Monitor) []int64 {
	var out []int64
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
