package custodian

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

// AuthCodeURL builds the provider consent URL for a link attempt. Offline
// access with a forced consent prompt makes the provider issue a refresh
// token even when the user approved the app before.
func (c *Custodian) AuthCodeURL(state, redirectURI string) string {
	conf := c.oauthConfig()
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// ExchangeCode swaps an authorization code for its token grant. A 4xx from
// the token endpoint means the code is spent, forged, or bound to another
// client and comes back as an auth failure; anything else is transient.
func (c *Custodian) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	conf := c.oauthConfig()
	conf.RedirectURL = redirectURI

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if stderrors.As(err, &rerr) && rerr.Response != nil &&
			rerr.Response.StatusCode >= 400 && rerr.Response.StatusCode < 500 {
			serr := errors.WrapAuthError("custodian.exchange", err)
			serr.StatusCode = rerr.Response.StatusCode
			return nil, serr
		}
		return nil, errors.WrapTransientError("custodian.exchange", err)
	}
	return tok, nil
}

// StoreGrant encrypts a freshly exchanged grant and creates or reactivates
// the linked account row for the platform identity. Only ciphertext leaves
// this function.
func (c *Custodian) StoreGrant(ctx context.Context, childID int64, platform models.Platform, platformAccountID, username string, tok *oauth2.Token) (*models.LinkedAccount, error) {
	accessCT, err := c.cipher.EncryptString(tok.AccessToken)
	if err != nil {
		return nil, errors.WrapSystemError("custodian.encrypt", err)
	}
	var refreshCT []byte
	if tok.RefreshToken != "" {
		refreshCT, err = c.cipher.EncryptString(tok.RefreshToken)
		if err != nil {
			return nil, errors.WrapSystemError("custodian.encrypt", err)
		}
	}

	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiry = &e
	}

	// The token response names the scopes actually granted; fall back to
	// the requested set when the provider omits them.
	scopes := strings.Join(c.oauthConfig().Scopes, " ")
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		scopes = granted
	}

	account, err := c.store.UpsertLinkedAccount(ctx, &models.LinkedAccount{
		ChildProfileID:         childID,
		Platform:               platform,
		PlatformAccountID:      platformAccountID,
		PlatformUsername:       username,
		AccessTokenCiphertext:  accessCT,
		RefreshTokenCiphertext: refreshCT,
		TokenExpiry:            expiry,
		Scopes:                 scopes,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("account_id", account.ID).Int64("child_profile_id", childID).
		Bool("has_refresh", tok.RefreshToken != "").Msg("Grant stored for linked account")
	return account, nil
}
