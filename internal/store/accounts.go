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

const accountColumns = `id, child_profile_id, platform, platform_account_id, platform_username,
	access_token_ciphertext, refresh_token_ciphertext, token_expiry, scopes,
	last_scan_at, is_active, created_at, updated_at`

// UpsertLinkedAccount creates the account row or, when the same platform
// identity was linked before, rebinds and reactivates it with the fresh
// token material.
func (s *Store) UpsertLinkedAccount(ctx context.Context, a *models.LinkedAccount) (*models.LinkedAccount, error) {
	if a.ChildProfileID == 0 {
		return nil, errors.WrapValidationError("store.upsert_account", fmt.Errorf("child profile id required"))
	}
	if !a.Platform.Valid() {
		return nil, errors.WrapValidationError("store.upsert_account", fmt.Errorf("unknown platform %q", string(a.Platform)))
	}
	if a.PlatformAccountID == "" {
		return nil, errors.WrapValidationError("store.upsert_account", fmt.Errorf("platform account id required"))
	}
	if len(a.AccessTokenCiphertext) == 0 {
		return nil, errors.WrapValidationError("store.upsert_account", fmt.Errorf("access token ciphertext required"))
	}

	now := nowUTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO linked_accounts (
			child_profile_id, platform, platform_account_id, platform_username,
			access_token_ciphertext, refresh_token_ciphertext, token_expiry, scopes,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		ON CONFLICT(platform, platform_account_id) DO UPDATE SET
			child_profile_id=excluded.child_profile_id,
			platform_username=excluded.platform_username,
			access_token_ciphertext=excluded.access_token_ciphertext,
			refresh_token_ciphertext=COALESCE(excluded.refresh_token_ciphertext, linked_accounts.refresh_token_ciphertext),
			token_expiry=excluded.token_expiry,
			scopes=excluded.scopes,
			is_active=TRUE,
			updated_at=excluded.updated_at`,
		a.ChildProfileID, a.Platform, a.PlatformAccountID, a.PlatformUsername,
		a.AccessTokenCiphertext, nilIfEmpty(a.RefreshTokenCiphertext), nullTime(a.TokenExpiry), a.Scopes,
		now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert linked account for child %d: %w", a.ChildProfileID, err)
	}

	return s.GetLinkedAccountByPlatformID(ctx, a.Platform, a.PlatformAccountID)
}

// GetLinkedAccount returns the account by id.
func (s *Store) GetLinkedAccount(ctx context.Context, id int64) (*models.LinkedAccount, error) {
	return scanAccountRow(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE id = ?`, id))
}

// GetLinkedAccountByPlatformID returns the account holding a platform identity.
func (s *Store) GetLinkedAccountByPlatformID(ctx context.Context, platform models.Platform, platformAccountID string) (*models.LinkedAccount, error) {
	return scanAccountRow(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE platform = ? AND platform_account_id = ?`,
		platform, platformAccountID))
}

// ListAccountsByChild returns every account linked to the child.
func (s *Store) ListAccountsByChild(ctx context.Context, childID int64) ([]*models.LinkedAccount, error) {
	return s.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE child_profile_id = ? ORDER BY id`, childID)
}

// ListActiveLinkedAccounts returns every active account across all children.
// The scheduler walks this list each tick.
func (s *Store) ListActiveLinkedAccounts(ctx context.Context) ([]*models.LinkedAccount, error) {
	return s.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE is_active = TRUE ORDER BY id`)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) (accounts []*models.LinkedAccount, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query linked accounts: %w", err)
	}
	defer closeRows(rows, &err, "linked accounts")

	for rows.Next() {
		a, scanErr := scanAccountFields(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		accounts = append(accounts, a)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate linked accounts: %w", rowsErr)
	}
	return accounts, nil
}

// UpdateAccountTokens persists rotated ciphertext after a refresh. A nil
// refresh ciphertext keeps the stored one; providers often omit the refresh
// token on rotation.
func (s *Store) UpdateAccountTokens(ctx context.Context, id int64, access, refresh []byte, expiry *time.Time) error {
	if len(access) == 0 {
		return errors.WrapValidationError("store.update_tokens", fmt.Errorf("access token ciphertext required"))
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE linked_accounts SET
			access_token_ciphertext = ?,
			refresh_token_ciphertext = COALESCE(?, refresh_token_ciphertext),
			token_expiry = ?,
			updated_at = ?
		WHERE id = ?`,
		access, nilIfEmpty(refresh), nullTime(expiry), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update tokens for account %d: %w", id, err)
	}
	return requireRow(res, "linked account")
}

// SetAccountActive toggles the account without touching token material.
func (s *Store) SetAccountActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE linked_accounts SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update account %d active flag: %w", id, err)
	}
	return requireRow(res, "linked account")
}

// ClearAccountTokens deactivates the account and destroys stored ciphertext.
// Used after provider-side revocation.
func (s *Store) ClearAccountTokens(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE linked_accounts SET
			access_token_ciphertext = X'',
			refresh_token_ciphertext = NULL,
			token_expiry = NULL,
			is_active = FALSE,
			updated_at = ?
		WHERE id = ?`,
		nowUTC(), id)
	if err != nil {
		return fmt.Errorf("clear tokens for account %d: %w", id, err)
	}
	return requireRow(res, "linked account")
}

// TouchLastScan records a completed scan instant.
func (s *Store) TouchLastScan(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE linked_accounts SET last_scan_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update last scan for account %d: %w", id, err)
	}
	return requireRow(res, "linked account")
}

func scanAccountRow(row *sql.Row) (*models.LinkedAccount, error) {
	a, err := scanAccountFields(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("linked account: %w", errors.ErrNotFound)
	}
	return a, err
}

func scanAccountFields(row rowScanner) (*models.LinkedAccount, error) {
	var (
		a        models.LinkedAccount
		username sql.NullString
		scopes   sql.NullString
		expiry   sql.NullTime
		lastScan sql.NullTime
	)
	err := row.Scan(&a.ID, &a.ChildProfileID, &a.Platform, &a.PlatformAccountID, &username,
		&a.AccessTokenCiphertext, &a.RefreshTokenCiphertext, &expiry, &scopes,
		&lastScan, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan linked account row: %w", err)
	}
	a.PlatformUsername = username.String
	a.Scopes = scopes.String
	a.TokenExpiry = timePtr(expiry)
	a.LastScanAt = timePtr(lastScan)
	return &a, nil
}

func nilIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
