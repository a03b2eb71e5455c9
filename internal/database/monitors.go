package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/lance13c/deltawatch/internal/models"
)

const monitorColumns = `id, owner_id, name, url, mode, selector, scenario, check_interval,
	notify_rule, ai_prompt, ai_only, keywords, retry_count, retry_delay_ms, tags, active,
	created_at, last_check, last_value, last_screenshot, last_change, unread_count,
	last_healed, pending_selector`

// monitorJSON holds the encoded JSON configuration columns
type monitorJSON struct {
	scenario   string
	notifyRule string
	keywords   string
	tags       string
}

func encodeMonitorJSON(m *models.Monitor) (monitorJSON, error) {
	var enc monitorJSON
	fields := []struct {
		dst *string
		v   interface{}
	}{
		{&enc.scenario, nonNil(m.Scenario)},
		{&enc.notifyRule, m.NotifyRule},
		{&enc.keywords, nonNil(m.Keywords)},
		{&enc.tags, nonNil(m.Tags)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return enc, fmt.Errorf("failed to encode monitor config: %w", err)
		}
		*f.dst = string(b)
	}
	return enc, nil
}

// nonNil keeps empty slices encoded as [] rather than null
func nonNil(v interface{}) interface{} {
	switch s := v.(type) {
	case []models.ScenarioStep:
		if s == nil {
			return []models.ScenarioStep{}
		}
	case []models.KeywordWatch:
		if s == nil {
			return []models.KeywordWatch{}
		}
	case []string:
		if s == nil {
			return []string{}
		}
	}
	return v
}

func scanMonitor(row scanner) (*models.Monitor, error) {
	var (
		m          models.Monitor
		mode       string
		interval   string
		rule       string
		scenario   string
		keywords   string
		tags       string
		aiOnly     int
		active     int
		retryDelay int64
		createdAt  int64
		lastCheck  sql.NullInt64
		lastValue  sql.NullString
		lastChange sql.NullInt64
		lastHealed sql.NullInt64
	)
	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Name, &m.URL, &mode, &m.Selector, &scenario, &interval,
		&rule, &m.AIPrompt, &aiOnly, &keywords, &m.RetryCount, &retryDelay, &tags, &active,
		&createdAt, &lastCheck, &lastValue, &m.LastScreenshot, &lastChange, &m.UnreadCount,
		&lastHealed, &m.PendingSelector,
	)
	if err != nil {
		return nil, err
	}

	m.Mode = models.Mode(mode)
	m.Interval = models.Interval(interval)
	m.AIOnly = aiOnly != 0
	m.Active = active != 0
	m.RetryDelay = time.Duration(retryDelay) * time.Millisecond
	m.CreatedAt = fromMillis(createdAt)
	m.LastCheck = fromNullMillis(lastCheck)
	m.LastValue = fromNullString(lastValue)
	m.LastChange = fromNullMillis(lastChange)
	m.LastHealed = fromNullMillis(lastHealed)

	columns := []struct {
		name string
		raw  string
		dst  interface{}
	}{
		{"scenario", scenario, &m.Scenario},
		{"notify_rule", rule, &m.NotifyRule},
		{"keywords", keywords, &m.Keywords},
		{"tags", tags, &m.Tags},
	}
	for _, c := range columns {
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return &m, &ConfigDecodeError{MonitorID: m.ID, Column: c.name, Err: err}
		}
	}
	return &m, nil
}

// queryMonitors runs a monitor query, skipping rows whose configuration
// cannot be decoded
func (db *DB) queryMonitors(ctx context.Context, query string, args ...interface{}) ([]*models.Monitor, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*models.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			var decodeErr *ConfigDecodeError
			if errors.As(err, &decodeErr) {
				logging.Error("Skipping monitor: %v", err)
				continue
			}
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read monitors: %w", err)
	}
	return monitors, nil
}

// CreateMonitor validates and stores a new monitor, returning its id
func (db *DB) CreateMonitor(ctx context.Context, m *models.Monitor) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	enc, err := encodeMonitorJSON(m)
	if err != nil {
		return 0, err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Interval == "" {
		m.Interval = models.Interval1h
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO monitors (owner_id, name, url, mode, selector, scenario, check_interval,
			notify_rule, ai_prompt, ai_only, keywords, retry_count, retry_delay_ms, tags, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.OwnerID, m.Name, m.URL, string(m.Mode), m.Selector, enc.scenario, string(m.Interval),
		enc.notifyRule, m.AIPrompt, boolInt(m.AIOnly), enc.keywords, m.RetryCount,
		m.RetryDelay.Milliseconds(), enc.tags, boolInt(m.Active), toMillis(m.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save monitor: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	m.ID = id
	return id, nil
}

// UpdateMonitorConfig rewrites the configuration fields of a monitor.
// Runtime state is left alone.
func (db *DB) UpdateMonitorConfig(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	enc, err := encodeMonitorJSON(m)
	if err != nil {
		return err
	}

	return db.exec(ctx, m.ID, `
		UPDATE monitors SET name = ?, url = ?, mode = ?, selector = ?, scenario = ?,
			check_interval = ?, notify_rule = ?, ai_prompt = ?, ai_only = ?, keywords = ?,
			retry_count = ?, retry_delay_ms = ?, tags = ?
		WHERE id = ?`,
		m.Name, m.URL, string(m.Mode), m.Selector, enc.scenario, string(m.Interval),
		enc.notifyRule, m.AIPrompt, boolInt(m.AIOnly), enc.keywords, m.RetryCount,
		m.RetryDelay.Milliseconds(), enc.tags, m.ID,
	)
}

// GetMonitor retrieves a monitor by ID. A malformed configuration column
// returns a *ConfigDecodeError.
func (db *DB) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = ?`, id)
	m, err := scanMonitor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrMonitorNotFound, id)
		}
		var decodeErr *ConfigDecodeError
		if errors.As(err, &decodeErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return m, nil
}

// ListMonitors returns every monitor ordered by id
func (db *DB) ListMonitors(ctx context.Context) ([]*models.Monitor, error) {
	return db.queryMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors ORDER BY id`)
}

// GetDueMonitors returns the active monitors due at now
func (db *DB) GetDueMonitors(ctx context.Context, now time.Time) ([]*models.Monitor, error) {
	monitors, err := db.queryMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return models.DueSet(monitors, now), nil
}

// DeleteMonitor removes a monitor and its history
func (db *DB) DeleteMonitor(ctx context.Context, id int64) error {
	return db.exec(ctx, id, `DELETE FROM monitors WHERE id = ?`, id)
}

// SetActive pauses or resumes a monitor
func (db *DB) SetActive(ctx context.Context, id int64, active bool) error {
	return db.exec(ctx, id, `UPDATE monitors SET active = ? WHERE id = ?`, boolInt(active), id)
}

// MarkRead resets the unread change counter
func (db *DB) MarkRead(ctx context.Context, id int64) error {
	return db.exec(ctx, id, `UPDATE monitors SET unread_count = 0 WHERE id = ?`, id)
}

// UpdateMonitorSelector stores a repaired selector and clears any pending one
func (db *DB) UpdateMonitorSelector(ctx context.Context, id int64, selector string, healedAt time.Time) error {
	return db.exec(ctx, id,
		`UPDATE monitors SET selector = ?, last_healed = ?, pending_selector = '' WHERE id = ?`,
		selector, toMillis(healedAt), id,
	)
}

// SetPendingSelector stores a verified selector awaiting review
func (db *DB) SetPendingSelector(ctx context.Context, id int64, selector string) error {
	return db.exec(ctx, id, `UPDATE monitors SET pending_selector = ? WHERE id = ?`, selector, id)
}

// UpdateMonitorRuntimeState writes the runtime fields of a processed check.
// LastCheck never moves backwards.
func (db *DB) UpdateMonitorRuntimeState(ctx context.Context, id int64, upd models.RuntimeUpdate) error {
	checkedAt := toMillis(upd.LastCheck)
	sets := []string{"last_check = CASE WHEN last_check IS NULL OR last_check < ? THEN ? ELSE last_check END"}
	args := []interface{}{checkedAt, checkedAt}

	if upd.LastValue != nil {
		sets = append(sets, "last_value = ?")
		args = append(args, *upd.LastValue)
	}
	if upd.LastScreenshot != nil {
		sets = append(sets, "last_screenshot = ?")
		args = append(args, *upd.LastScreenshot)
	}
	if upd.LastChange != nil {
		sets = append(sets, "last_change = ?")
		args = append(args, toMillis(*upd.LastChange))
	}
	if upd.IncrementUnread {
		sets = append(sets, "unread_count = unread_count + 1")
	}
	args = append(args, id)

	query := "UPDATE monitors SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	return db.exec(ctx, id, query, args...)
}

// ClaimCheck marks a monitor as being checked until the given time. It
// returns false when another process holds an unexpired claim. Claims are
// shared through the database so a one-off check and a running scheduler
// never process the same monitor at once.
func (db *DB) ClaimCheck(ctx context.Context, id int64, now, until time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE monitors SET checking_until = ?
		WHERE id = ? AND (checking_until IS NULL OR checking_until < ?)`,
		toMillis(until), id, toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim monitor %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim monitor %d: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = db.conn.QueryRowContext(ctx, `SELECT 1 FROM monitors WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %d", ErrMonitorNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim monitor %d: %w", id, err)
	}
	return false, nil
}

// ReleaseCheck drops a claim taken by ClaimCheck
func (db *DB) ReleaseCheck(ctx context.Context, id int64) error {
	return db.exec(ctx, id, `UPDATE monitors SET checking_until = NULL WHERE id = ?`, id)
}

// exec runs a single-monitor write and maps zero affected rows to ErrMonitorNotFound
func (db *DB) exec(ctx context.Context, id int64, query string, args ...interface{}) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update monitor %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update monitor %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrMonitorNotFound, id)
	}
	return nil
}
