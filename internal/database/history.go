package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/deltawatch/internal/models"
)

const historyColumns = `id, monitor_id, run_id, status, value, screenshot, prev_screenshot,
	diff_screenshot, ai_summary, diff, error, http_status, created_at`

// InsertHistory appends a check record and returns its id
func (db *DB) InsertHistory(ctx context.Context, rec *models.CheckHistoryRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var status sql.NullInt64
	if rec.HTTPStatus != nil {
		status = sql.NullInt64{Int64: int64(*rec.HTTPStatus), Valid: true}
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO check_history (monitor_id, run_id, status, value, screenshot, prev_screenshot,
			diff_screenshot, ai_summary, diff, error, http_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MonitorID, rec.RunID, string(rec.Status), nullString(rec.Value), rec.Screenshot,
		rec.PrevScreenshot, rec.DiffScreenshot, rec.AISummary, rec.Diff, rec.Error, status, toMillis(rec.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save check history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	rec.ID = id
	return id, nil
}

func scanHistory(row scanner) (models.CheckHistoryRecord, error) {
	var (
		rec       models.CheckHistoryRecord
		status    string
		value     sql.NullString
		httpCode  sql.NullInt64
		createdAt int64
	)
	err := row.Scan(
		&rec.ID, &rec.MonitorID, &rec.RunID, &status, &value, &rec.Screenshot, &rec.PrevScreenshot,
		&rec.DiffScreenshot, &rec.AISummary, &rec.Diff, &rec.Error, &httpCode, &createdAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Status = models.CheckStatus(status)
	rec.Value = fromNullString(value)
	if httpCode.Valid {
		code := int(httpCode.Int64)
		rec.HTTPStatus = &code
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

// ListHistory returns up to limit records for a monitor, newest first
func (db *DB) ListHistory(ctx context.Context, monitorID int64, limit int) ([]models.CheckHistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM check_history
		WHERE monitor_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []models.CheckHistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListMonitorsWithHistory returns every monitor with its latest limit
// history records, loading all history in one batched query
func (db *DB) ListMonitorsWithHistory(ctx context.Context, limit int) ([]models.MonitorWithHistory, error) {
	monitors, err := db.ListMonitors(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]models.MonitorWithHistory, len(monitors))
	if len(monitors) == 0 {
		return result, nil
	}

	index := make(map[int64]int, len(monitors))
	placeholders := make([]string, len(monitors))
	args := make([]interface{}, 0, len(monitors)+1)
	for i, m := range monitors {
		result[i].Monitor = m
		index[m.ID] = i
		placeholders[i] = "?"
		args = append(args, m.ID)
	}
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)

	query := `
		SELECT ` + historyColumns + ` FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY monitor_id ORDER BY created_at DESC, id DESC) AS rn
			FROM check_history
			WHERE monitor_id IN (` + strings.Join(placeholders, ",") + `)
		) WHERE rn <= ?
		ORDER BY monitor_id, created_at DESC, id DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if i, ok := index[rec.MonitorID]; ok {
			result[i].History = append(result[i].History, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return result, nil
}

// PruneHistory deletes all but the newest keep records of a monitor, or of
// every monitor when monitorID is 0. It returns the number of deleted rows
// and the diff images they referenced.
func (db *DB) PruneHistory(ctx context.Context, monitorID int64, keep int) (int64, []string, error) {
	if keep < 0 {
		keep = 0
	}

	filter := ""
	args := []interface{}{}
	if monitorID != 0 {
		filter = "WHERE monitor_id = ?"
		args = append(args, monitorID)
	}
	args = append(args, keep)

	selectDoomed := `
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY monitor_id ORDER BY created_at DESC, id DESC) AS rn
			FROM check_history ` + filter + `
		) WHERE rn > ?`

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT diff_screenshot FROM check_history
		WHERE diff_screenshot != '' AND id IN (`+selectDoomed+`)`, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query history: %w", err)
	}
	var diffs []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, nil, fmt.Errorf("failed to scan history: %w", err)
		}
		diffs = append(diffs, path)
	}
	rows.Close()

	result, err := tx.ExecContext(ctx, `DELETE FROM check_history WHERE id IN (`+selectDoomed+`)`, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to prune history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, diffs, nil
}
