package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

const verificationColumns = `id, child_profile_id, platform, method, status,
	verified_at, expires_at, notes, data, created_at, updated_at`

// CreateVerification records a consent submission for a (child, platform) pair.
func (s *Store) CreateVerification(ctx context.Context, v *models.CoppaVerification) (*models.CoppaVerification, error) {
	if v.ChildProfileID == 0 {
		return nil, errors.WrapValidationError("store.create_verification", fmt.Errorf("child profile id required"))
	}
	if !v.Method.Valid() {
		return nil, errors.WrapValidationError("store.create_verification", fmt.Errorf("unknown method %q", string(v.Method)))
	}
	if !v.Status.Valid() {
		return nil, errors.WrapValidationError("store.create_verification", fmt.Errorf("unknown status %q", string(v.Status)))
	}

	data, err := encodeMap(v.Data)
	if err != nil {
		return nil, err
	}
	now := nowUTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO coppa_verifications (
			child_profile_id, platform, method, status, verified_at, expires_at, notes, data,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ChildProfileID, v.Platform, v.Method, v.Status,
		nullTime(v.VerifiedAt), nullTime(v.ExpiresAt), v.Notes, data, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert verification for child %d: %w", v.ChildProfileID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("verification insert id: %w", err)
	}
	out := *v
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

// ListVerifications returns all consent records for the pair, newest first.
func (s *Store) ListVerifications(ctx context.Context, childID int64, platform models.Platform) (list []*models.CoppaVerification, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+verificationColumns+` FROM coppa_verifications
		 WHERE child_profile_id = ? AND platform = ? ORDER BY created_at DESC, id DESC`,
		childID, platform)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer closeRows(rows, &err, "verifications")

	for rows.Next() {
		v, scanErr := scanVerification(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		list = append(list, v)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate verifications: %w", rowsErr)
	}
	return list, nil
}

// ActiveVerification returns the newest consent record in effect for the
// pair at the given instant, or not-found. At most one record is considered
// active at a time.
func (s *Store) ActiveVerification(ctx context.Context, childID int64, platform models.Platform, now time.Time) (*models.CoppaVerification, error) {
	list, err := s.ListVerifications(ctx, childID, platform)
	if err != nil {
		return nil, err
	}
	for _, v := range list {
		if v.ActiveAt(now) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("active verification: %w", errors.ErrNotFound)
}

// GetVerification returns a single consent record.
func (s *Store) GetVerification(ctx context.Context, id int64) (*models.CoppaVerification, error) {
	v, err := scanVerification(s.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM coppa_verifications WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("verification: %w", errors.ErrNotFound)
	}
	return v, err
}

// UpdateVerificationStatus transitions a consent record, stamping the
// verification and expiry instants when provided.
func (s *Store) UpdateVerificationStatus(ctx context.Context, id int64, status models.VerificationStatus, verifiedAt, expiresAt *time.Time) error {
	if !status.Valid() {
		return errors.WrapValidationError("store.update_verification", fmt.Errorf("unknown status %q", string(status)))
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE coppa_verifications SET status = ?, verified_at = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`,
		status, nullTime(verifiedAt), nullTime(expiresAt), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update verification %d: %w", id, err)
	}
	return requireRow(res, "verification")
}

func scanVerification(row rowScanner) (*models.CoppaVerification, error) {
	var (
		v          models.CoppaVerification
		verifiedAt sql.NullTime
		expiresAt  sql.NullTime
		notes      sql.NullString
		data       sql.NullString
	)
	err := row.Scan(&v.ID, &v.ChildProfileID, &v.Platform, &v.Method, &v.Status,
		&verifiedAt, &expiresAt, &notes, &data, &v.CreatedAt, &v.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan verification row: %w", err)
	}
	v.VerifiedAt = timePtr(verifiedAt)
	v.ExpiresAt = timePtr(expiresAt)
	v.Notes = notes.String
	if v.Data, err = decodeMap(data); err != nil {
		return nil, err
	}
	return &v, nil
}
