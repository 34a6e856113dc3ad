// Package custodian is the sole holder of plaintext OAuth tokens. Tokens
// rest encrypted in the store; everything outside this package sees either
// ciphertext or an already-authenticated HTTP client. Plaintext token
// material never appears in logs, errors, or audit details.
package custodian

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/nestwatch/nestwatch/internal/config"
	"github.com/nestwatch/nestwatch/internal/crypto"
	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/metrics"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

// ScopeYouTubeReadonly is the only Google scope the service ever requests.
const ScopeYouTubeReadonly = "https://www.googleapis.com/auth/youtube.readonly"

const defaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// AuthedClient is an HTTP client bound to one linked account's credentials.
type AuthedClient struct {
	HTTP    *http.Client
	Account *models.LinkedAccount
}

// Custodian loads encrypted tokens, refreshes them ahead of expiry, and
// persists rotations. Revocation and quarantine of unreadable credentials
// also live here.
type Custodian struct {
	store         *store.Store
	cipher        *crypto.TokenCipher
	clientID      string
	clientSecret  string
	refreshBuffer time.Duration

	// Overridable for tests.
	Endpoint   oauth2.Endpoint
	RevokeURL  string
	HTTPClient *http.Client
}

func New(st *store.Store, cipher *crypto.TokenCipher, cfg *config.Config) *Custodian {
	return &Custodian{
		store:         st,
		cipher:        cipher,
		clientID:      cfg.YouTubeClientID,
		clientSecret:  cfg.YouTubeClientSecret,
		refreshBuffer: cfg.TokenRefreshBuffer,
		Endpoint:      google.Endpoint,
		RevokeURL:     defaultRevokeURL,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Custodian) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Scopes:       []string{ScopeYouTubeReadonly},
		Endpoint:     c.Endpoint,
	}
}

// Client returns an authenticated HTTP client for the linked account,
// refreshing the access token first when it is inside the expiry buffer and
// a refresh token is on file. Rotated tokens are re-encrypted and persisted
// before the client is handed out.
func (c *Custodian) Client(ctx context.Context, accountID int64) (*AuthedClient, error) {
	account, err := c.store.GetLinkedAccount(ctx, accountID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.WrapNotFoundError("custodian.load", err).WithAccount(accountID)
		}
		return nil, errors.WrapSystemError("custodian.load", err).WithAccount(accountID)
	}
	if !account.IsActive {
		return nil, errors.WrapAuthError("custodian.load", fmt.Errorf("account is deactivated")).WithAccount(accountID)
	}

	access, refresh, err := c.decryptTokens(ctx, account)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh}
	if account.TokenExpiry != nil {
		tok.Expiry = *account.TokenExpiry
	}

	if c.needsRefresh(account) && refresh != "" {
		tok, err = c.refresh(ctx, account, refresh)
		if err != nil {
			return nil, err
		}
	}

	// A static source never refreshes mid-scan; the buffer check above is
	// the only refresh trigger.
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	return &AuthedClient{HTTP: httpClient, Account: account}, nil
}

// needsRefresh is true when the expiry is unknown or inside the buffer. An
// account without a refresh token is returned as-is either way; the platform
// call will surface a 401 if the access token is truly dead.
func (c *Custodian) needsRefresh(account *models.LinkedAccount) bool {
	if account.TokenExpiry == nil {
		return true
	}
	return time.Until(*account.TokenExpiry) < c.refreshBuffer
}

func (c *Custodian) refresh(ctx context.Context, account *models.LinkedAccount, refreshToken string) (*oauth2.Token, error) {
	conf := c.oauthConfig()

	// An already-expired base token forces the refresh grant on first use.
	base := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
	newTok, err := conf.TokenSource(ctx, base).Token()
	if err != nil {
		metrics.RecordTokenRefresh("failed")
		var rerr *oauth2.RetrieveError
		if stderrors.As(err, &rerr) && rerr.Response != nil &&
			rerr.Response.StatusCode >= 400 && rerr.Response.StatusCode < 500 {
			// The grant itself was rejected. Retrying cannot help; the row
			// stays untouched so the parent can re-link.
			serr := errors.WrapAuthError("custodian.refresh", err).WithAccount(account.ID)
			serr.StatusCode = rerr.Response.StatusCode
			return nil, serr
		}
		return nil, errors.WrapTransientError("custodian.refresh", err).WithAccount(account.ID)
	}

	if err := c.persistRotation(ctx, account, refreshToken, newTok); err != nil {
		return nil, err
	}
	metrics.RecordTokenRefresh("refreshed")
	log.Debug().Int64("account_id", account.ID).Time("expiry", newTok.Expiry).Msg("Access token refreshed")
	return newTok, nil
}

func (c *Custodian) persistRotation(ctx context.Context, account *models.LinkedAccount, oldRefresh string, tok *oauth2.Token) error {
	accessCT, err := c.cipher.EncryptString(tok.AccessToken)
	if err != nil {
		return errors.WrapSystemError("custodian.encrypt", err).WithAccount(account.ID)
	}

	// Google omits the refresh token on most refresh grants; a nil value
	// keeps the stored one.
	var refreshCT []byte
	if tok.RefreshToken != "" && tok.RefreshToken != oldRefresh {
		refreshCT, err = c.cipher.EncryptString(tok.RefreshToken)
		if err != nil {
			return errors.WrapSystemError("custodian.encrypt", err).WithAccount(account.ID)
		}
	}

	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiry = &e
	}

	if err := c.store.UpdateAccountTokens(ctx, account.ID, accessCT, refreshCT, expiry); err != nil {
		return errors.WrapSystemError("custodian.persist_tokens", err).WithAccount(account.ID)
	}
	return nil
}

// decryptTokens recovers the plaintext pair. Ciphertext that fails
// authentication means the row is unusable: the account is quarantined and
// an integrity error comes back.
func (c *Custodian) decryptTokens(ctx context.Context, account *models.LinkedAccount) (access, refresh string, err error) {
	access, err = c.cipher.DecryptString(account.AccessTokenCiphertext)
	if err != nil {
		c.quarantine(ctx, account, "access_token")
		return "", "", errors.WrapIntegrityError("custodian.decrypt", fmt.Errorf("stored access token is unreadable")).WithAccount(account.ID)
	}
	if account.HasRefreshToken() {
		refresh, err = c.cipher.DecryptString(account.RefreshTokenCiphertext)
		if err != nil {
			c.quarantine(ctx, account, "refresh_token")
			return "", "", errors.WrapIntegrityError("custodian.decrypt", fmt.Errorf("stored refresh token is unreadable")).WithAccount(account.ID)
		}
	}
	return access, refresh, nil
}

func (c *Custodian) quarantine(ctx context.Context, account *models.LinkedAccount, which string) {
	if err := c.store.SetAccountActive(ctx, account.ID, false); err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("Failed to deactivate account with unreadable tokens")
	}
	audit.Record(ctx, audit.Entry{
		Action:       string(models.AuditSystemError),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", account.ID),
		Details: map[string]any{
			"reason": "token_decrypt_failed",
			"field":  which,
		},
	})
	log.Warn().Int64("account_id", account.ID).Str("field", which).Msg("Linked account quarantined: stored token ciphertext failed authentication")
}

// Revoke tells Google to invalidate both tokens, then zeroes the stored
// columns and deactivates the account. Upstream revocation is best-effort;
// local destruction always happens.
func (c *Custodian) Revoke(ctx context.Context, accountID int64) error {
	account, err := c.store.GetLinkedAccount(ctx, accountID)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.WrapNotFoundError("custodian.revoke", err).WithAccount(accountID)
		}
		return errors.WrapSystemError("custodian.revoke", err).WithAccount(accountID)
	}

	if access, err := c.cipher.DecryptString(account.AccessTokenCiphertext); err == nil && access != "" {
		c.revokeUpstream(ctx, account.ID, access)
	}
	if account.HasRefreshToken() {
		if refresh, err := c.cipher.DecryptString(account.RefreshTokenCiphertext); err == nil && refresh != "" {
			c.revokeUpstream(ctx, account.ID, refresh)
		}
	}

	if err := c.store.ClearAccountTokens(ctx, account.ID); err != nil {
		return errors.WrapSystemError("custodian.clear_tokens", err).WithAccount(account.ID)
	}
	log.Info().Int64("account_id", account.ID).Msg("Linked account tokens destroyed")
	return nil
}

func (c *Custodian) revokeUpstream(ctx context.Context, accountID int64, token string) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		c.auditRevokeFailure(ctx, accountID, 0)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Int64("account_id", accountID).Msg("Token revocation request failed")
		c.auditRevokeFailure(ctx, accountID, 0)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int64("account_id", accountID).Int("status", resp.StatusCode).Msg("Token revocation rejected upstream")
		c.auditRevokeFailure(ctx, accountID, resp.StatusCode)
	}
}

func (c *Custodian) auditRevokeFailure(ctx context.Context, accountID int64, status int) {
	details := map[string]any{"reason": "token_revoke_failed"}
	if status != 0 {
		details["status"] = status
	}
	audit.Record(ctx, audit.Entry{
		Action:       string(models.AuditSystemError),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", accountID),
		Details:      details,
	})
}
