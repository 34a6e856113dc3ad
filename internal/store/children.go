package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

const childColumns = `id, parent_id, display_name, age, is_active, created_at, updated_at`

// CreateChild inserts a child profile under a parent.
func (s *Store) CreateChild(ctx context.Context, parentID int64, displayName string, age *int) (*models.ChildProfile, error) {
	if displayName == "" {
		return nil, errors.WrapValidationError("store.create_child", fmt.Errorf("display name required"))
	}
	if age != nil && (*age < 0 || *age > 17) {
		return nil, errors.WrapValidationError("store.create_child", fmt.Errorf("age %d out of range", *age))
	}

	now := nowUTC()
	var ageVal any
	if age != nil {
		ageVal = *age
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO child_profiles (parent_id, display_name, age, is_active, created_at, updated_at)
		VALUES (?, ?, ?, TRUE, ?, ?)`,
		parentID, displayName, ageVal, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert child profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("child insert id: %w", err)
	}
	return &models.ChildProfile{
		ID:          id,
		ParentID:    parentID,
		DisplayName: displayName,
		Age:         age,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetChild returns the child profile by id.
func (s *Store) GetChild(ctx context.Context, id int64) (*models.ChildProfile, error) {
	return scanChild(s.db.QueryRowContext(ctx,
		`SELECT `+childColumns+` FROM child_profiles WHERE id = ?`, id))
}

// ListChildren returns all profiles under a parent, active first, newest last.
func (s *Store) ListChildren(ctx context.Context, parentID int64) (children []*models.ChildProfile, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+childColumns+` FROM child_profiles WHERE parent_id = ? ORDER BY is_active DESC, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query child profiles: %w", err)
	}
	defer closeRows(rows, &err, "child profiles")

	for rows.Next() {
		c, scanErr := scanChildRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		children = append(children, c)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate child profiles: %w", rowsErr)
	}
	return children, nil
}

// UpdateChild replaces display name and age.
func (s *Store) UpdateChild(ctx context.Context, id int64, displayName string, age *int) error {
	if displayName == "" {
		return errors.WrapValidationError("store.update_child", fmt.Errorf("display name required"))
	}
	var ageVal any
	if age != nil {
		ageVal = *age
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE child_profiles SET display_name = ?, age = ?, updated_at = ? WHERE id = ?`,
		displayName, ageVal, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update child profile %d: %w", id, err)
	}
	return requireRow(res, "child profile")
}

// SetChildActive toggles the soft-delete flag.
func (s *Store) SetChildActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE child_profiles SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update child profile %d active flag: %w", id, err)
	}
	return requireRow(res, "child profile")
}

// DeleteChild removes the profile; linked accounts, verifications, channels,
// videos, results, and alerts beneath it go with it via foreign keys.
func (s *Store) DeleteChild(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM child_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete child profile %d: %w", id, err)
	}
	return requireRow(res, "child profile")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChild(row *sql.Row) (*models.ChildProfile, error) {
	c, err := scanChildRow(row)
	if err != nil && stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("child profile: %w", errors.ErrNotFound)
	}
	return c, err
}

func scanChildRow(row rowScanner) (*models.ChildProfile, error) {
	var (
		c   models.ChildProfile
		age sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.ParentID, &c.DisplayName, &age, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan child profile row: %w", err)
	}
	if age.Valid {
		v := int(age.Int64)
		c.Age = &v
	}
	return &c, nil
}
