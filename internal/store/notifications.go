package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

// GetPreferences returns the parent's notification preferences, or the
// default all-enabled set when none were saved yet.
func (s *Store) GetPreferences(ctx context.Context, parentID int64) (*models.NotificationPreferences, error) {
	var p models.NotificationPreferences
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, email_enabled, push_enabled, alert_scan_complete,
			alert_new_flags, alert_high_risk, alert_account_change, created_at, updated_at
		FROM notification_preferences WHERE parent_id = ?`, parentID).
		Scan(&p.ID, &p.ParentID, &p.EmailEnabled, &p.PushEnabled, &p.AlertScanComplete,
			&p.AlertNewFlags, &p.AlertHighRisk, &p.AlertAccountChange, &p.CreatedAt, &p.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.DefaultNotificationPreferences(parentID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query preferences for parent %d: %w", parentID, err)
	}
	return &p, nil
}

// SavePreferences upserts the parent's preference row.
func (s *Store) SavePreferences(ctx context.Context, p *models.NotificationPreferences) error {
	if p.ParentID == 0 {
		return errors.WrapValidationError("store.save_preferences", fmt.Errorf("parent id required"))
	}
	now := nowUTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (parent_id, email_enabled, push_enabled,
			alert_scan_complete, alert_new_flags, alert_high_risk, alert_account_change,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(parent_id) DO UPDATE SET
			email_enabled=excluded.email_enabled,
			push_enabled=excluded.push_enabled,
			alert_scan_complete=excluded.alert_scan_complete,
			alert_new_flags=excluded.alert_new_flags,
			alert_high_risk=excluded.alert_high_risk,
			alert_account_change=excluded.alert_account_change,
			updated_at=excluded.updated_at`,
		p.ParentID, p.EmailEnabled, p.PushEnabled, p.AlertScanComplete,
		p.AlertNewFlags, p.AlertHighRisk, p.AlertAccountChange, now, now)
	if err != nil {
		return fmt.Errorf("save preferences for parent %d: %w", p.ParentID, err)
	}
	return nil
}

// RegisterDeviceToken stores (or reactivates) a push registration.
func (s *Store) RegisterDeviceToken(ctx context.Context, parentID int64, token, platform string) error {
	if token == "" {
		return errors.WrapValidationError("store.register_device", fmt.Errorf("token required"))
	}
	now := nowUTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_tokens (parent_id, token, platform, is_active, created_at, updated_at)
		VALUES (?, ?, ?, TRUE, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			parent_id=excluded.parent_id,
			platform=excluded.platform,
			is_active=TRUE,
			updated_at=excluded.updated_at`,
		parentID, token, platform, now, now)
	if err != nil {
		return fmt.Errorf("register device token for parent %d: %w", parentID, err)
	}
	return nil
}

// DeactivateDeviceToken retires a push registration, keeping the row for audit.
func (s *Store) DeactivateDeviceToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_tokens SET is_active = FALSE, updated_at = ? WHERE token = ?`,
		nowUTC(), token)
	if err != nil {
		return fmt.Errorf("deactivate device token: %w", err)
	}
	return requireRow(res, "device token")
}

// ListActiveDeviceTokens returns the parent's live push registrations.
func (s *Store) ListActiveDeviceTokens(ctx context.Context, parentID int64) (tokens []*models.DeviceToken, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, token, platform, is_active, created_at, updated_at
		FROM device_tokens WHERE parent_id = ? AND is_active = TRUE ORDER BY id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer closeRows(rows, &err, "device tokens")

	for rows.Next() {
		var (
			t        models.DeviceToken
			platform sql.NullString
		)
		if scanErr := rows.Scan(&t.ID, &t.ParentID, &t.Token, &platform, &t.IsActive,
			&t.CreatedAt, &t.UpdatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan device token row: %w", scanErr)
		}
		t.Platform = platform.String
		tokens = append(tokens, &t)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate device tokens: %w", rowsErr)
	}
	return tokens, nil
}
