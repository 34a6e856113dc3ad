package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

const alertColumns = `id, child_profile_id, alert_type, title, message, summary_data,
	is_read, read_at, created_at, updated_at`

// CreateAlert inserts a synthesized alert row.
func (s *Store) CreateAlert(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	if a.ChildProfileID == 0 {
		return nil, errors.WrapValidationError("store.create_alert", fmt.Errorf("child profile id required"))
	}
	if !a.AlertType.Valid() {
		return nil, errors.WrapValidationError("store.create_alert", fmt.Errorf("unknown alert type %q", string(a.AlertType)))
	}
	if a.Title == "" {
		return nil, errors.WrapValidationError("store.create_alert", fmt.Errorf("title required"))
	}

	summary, err := encodeMap(a.SummaryData)
	if err != nil {
		return nil, err
	}
	now := nowUTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (child_profile_id, alert_type, title, message, summary_data,
			is_read, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, FALSE, ?, ?)`,
		a.ChildProfileID, a.AlertType, a.Title, a.Message, summary, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert alert for child %d: %w", a.ChildProfileID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("alert insert id: %w", err)
	}
	out := *a
	out.ID = id
	out.IsRead = false
	out.ReadAt = nil
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

// GetAlert returns one alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	a, err := scanAlert(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert: %w", errors.ErrNotFound)
	}
	return a, err
}

// ListAlertsByChild returns a child's alerts, newest first.
func (s *Store) ListAlertsByChild(ctx context.Context, childID int64, unreadOnly bool) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE child_profile_id = ?`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return s.queryAlerts(ctx, query, childID)
}

// ListAlertsByParent returns alerts across all of a parent's children.
func (s *Store) ListAlertsByParent(ctx context.Context, parentID int64, unreadOnly bool) ([]*models.Alert, error) {
	query := `
		SELECT a.id, a.child_profile_id, a.alert_type, a.title, a.message, a.summary_data,
			a.is_read, a.read_at, a.created_at, a.updated_at
		FROM alerts a
		JOIN child_profiles c ON c.id = a.child_profile_id
		WHERE c.parent_id = ?`
	if unreadOnly {
		query += ` AND a.is_read = FALSE`
	}
	query += ` ORDER BY a.created_at DESC, a.id DESC`
	return s.queryAlerts(ctx, query, parentID)
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) (alerts []*models.Alert, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer closeRows(rows, &err, "alerts")

	for rows.Next() {
		a, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, a)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate alerts: %w", rowsErr)
	}
	return alerts, nil
}

// MarkAlertRead marks one alert read. Already-read alerts keep their
// original read instant.
func (s *Store) MarkAlertRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET is_read = TRUE, read_at = COALESCE(read_at, ?), updated_at = ?
		WHERE id = ?`,
		nowUTC(), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("mark alert %d read: %w", id, err)
	}
	return requireRow(res, "alert")
}

// MarkAllAlertsRead marks every unread alert for the child and returns how
// many changed. A second call returns zero.
func (s *Store) MarkAllAlertsRead(ctx context.Context, childID int64) (int64, error) {
	now := nowUTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET is_read = TRUE, read_at = ?, updated_at = ?
		WHERE child_profile_id = ? AND is_read = FALSE`,
		now, now, childID)
	if err != nil {
		return 0, fmt.Errorf("mark alerts read for child %d: %w", childID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("alerts rows affected: %w", err)
	}
	return n, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a       models.Alert
		message sql.NullString
		summary sql.NullString
		readAt  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.ChildProfileID, &a.AlertType, &a.Title, &message, &summary,
		&a.IsRead, &readAt, &a.CreatedAt, &a.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert row: %w", err)
	}
	a.Message = message.String
	a.ReadAt = timePtr(readAt)
	if a.SummaryData, err = decodeMap(summary); err != nil {
		return nil, err
	}
	return &a, nil
}
