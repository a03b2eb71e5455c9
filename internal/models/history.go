package models

import "time"

// CheckStatus is the outcome recorded for one executed check
type CheckStatus string

const (
	StatusUnchanged CheckStatus = "unchanged"
	StatusChanged   CheckStatus = "changed"
	StatusError     CheckStatus = "error"
)

// CheckHistoryRecord is the append-only record written once per check
type CheckHistoryRecord struct {
	ID             int64
	MonitorID      int64
	RunID          string
	Status         CheckStatus
	Value          *string
	Screenshot     string
	PrevScreenshot string
	DiffScreenshot string
	AISummary      string
	Diff           string
	Error          string
	HTTPStatus     *int
	CreatedAt      time.Time
}

// RuntimeUpdate lists the runtime fields a processed check writes.
// Nil pointers leave the stored value untouched.
type RuntimeUpdate struct {
	LastCheck       time.Time
	LastValue       *string
	LastScreenshot  *string
	LastChange      *time.Time
	IncrementUnread bool
}

// MonitorWithHistory pairs a monitor with its most recent history records
type MonitorWithHistory struct {
	Monitor *Monitor
	History []CheckHistoryRecord
}
