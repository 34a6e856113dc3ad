package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

// CreateParent inserts a guardian account. Email is stored lowercased and
// must be unique.
func (s *Store) CreateParent(ctx context.Context, email, hashedPassword string) (*models.ParentUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.WrapValidationError("store.create_parent", fmt.Errorf("email required"))
	}
	if hashedPassword == "" {
		return nil, errors.WrapValidationError("store.create_parent", fmt.Errorf("hashed password required"))
	}

	now := nowUTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO parent_users (email, hashed_password, is_active, created_at, updated_at)
		VALUES (?, ?, TRUE, ?, ?)`,
		email, hashedPassword, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert parent %q: %w", email, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("parent insert id: %w", err)
	}
	return &models.ParentUser{
		ID:             id,
		Email:          email,
		HashedPassword: hashedPassword,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// GetParent returns the parent by id.
func (s *Store) GetParent(ctx context.Context, id int64) (*models.ParentUser, error) {
	return s.scanParent(s.db.QueryRowContext(ctx, `
		SELECT id, email, hashed_password, is_active, created_at, updated_at
		FROM parent_users WHERE id = ?`, id))
}

// GetParentByEmail returns the parent with the given email, case-insensitive.
func (s *Store) GetParentByEmail(ctx context.Context, email string) (*models.ParentUser, error) {
	return s.scanParent(s.db.QueryRowContext(ctx, `
		SELECT id, email, hashed_password, is_active, created_at, updated_at
		FROM parent_users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) scanParent(row *sql.Row) (*models.ParentUser, error) {
	var p models.ParentUser
	err := row.Scan(&p.ID, &p.Email, &p.HashedPassword, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("parent: %w", errors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan parent row: %w", err)
	}
	return &p, nil
}

// SetParentActive toggles the soft-delete flag.
func (s *Store) SetParentActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE parent_users SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update parent %d active flag: %w", id, err)
	}
	return requireRow(res, "parent")
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, errors.ErrNotFound)
	}
	return nil
}
