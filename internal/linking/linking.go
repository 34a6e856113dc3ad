// Package linking runs the OAuth flow that binds a child's platform account
// to their profile. No consent URL is issued until the COPPA gate allows the
// link; the callback side verifies the signed state envelope, exchanges the
// code through the custodian, and queues the first scan of the new account.
package linking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/nestwatch/nestwatch/internal/alerts"
	"github.com/nestwatch/nestwatch/internal/auth"
	"github.com/nestwatch/nestwatch/internal/config"
	"github.com/nestwatch/nestwatch/internal/coppa"
	"github.com/nestwatch/nestwatch/internal/crypto"
	"github.com/nestwatch/nestwatch/internal/custodian"
	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/platform/youtube"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

// ScanEnqueuer queues a scan for a linked account. The asynq client
// satisfies it in production.
type ScanEnqueuer interface {
	EnqueueScan(ctx context.Context, accountID int64) (string, error)
}

// Identity is who a freshly exchanged grant belongs to on the platform.
type Identity struct {
	AccountID string
	Username  string
}

// IdentityFunc resolves the platform identity behind a grant.
type IdentityFunc func(ctx context.Context, tok *oauth2.Token) (*Identity, error)

// LinkStart is the outcome of the flow's first leg. AuthURL is set only
// when the decision is Allowed.
type LinkStart struct {
	Decision coppa.Decision
	AuthURL  string
}

// Service runs both halves of the redirect flow plus unlink.
type Service struct {
	store       *store.Store
	gate        *coppa.Gate
	signer      *crypto.StateSigner
	custodian   *custodian.Custodian
	alerts      *alerts.Synthesizer
	scans       ScanEnqueuer
	redirectURI string

	// Overridable for tests.
	Identity IdentityFunc
}

func New(st *store.Store, gate *coppa.Gate, signer *crypto.StateSigner, cust *custodian.Custodian, synth *alerts.Synthesizer, scans ScanEnqueuer, cfg *config.Config) *Service {
	return &Service{
		store:       st,
		gate:        gate,
		signer:      signer,
		custodian:   cust,
		alerts:      synth,
		scans:       scans,
		redirectURI: cfg.YouTubeRedirectURI,
		Identity:    youtubeIdentity,
	}
}

// BeginLink checks the consent gate and, when linking is allowed, returns
// the provider consent URL carrying a signed state envelope. The child must
// belong to the calling parent.
func (s *Service) BeginLink(ctx context.Context, parentID, childID int64, platform models.Platform) (*LinkStart, error) {
	if !platform.Valid() {
		return nil, errors.WrapValidationError("linking.begin", fmt.Errorf("unknown platform %q", string(platform)))
	}

	child, err := s.store.GetChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	if child.ParentID != parentID {
		return nil, errors.WrapNotFoundError("linking.begin", fmt.Errorf("child profile %d does not belong to the caller", childID))
	}

	decision, err := s.gate.EnsureAllowed(ctx, childID, platform)
	if err != nil {
		return nil, err
	}
	if decision != coppa.Allowed {
		log.Info().Int64("child_profile_id", childID).Str("decision", string(decision)).
			Msg("Account link held by the consent gate")
		return &LinkStart{Decision: decision}, nil
	}

	state, err := s.signer.Sign(s.signer.NewState(parentID, childID, string(platform)))
	if err != nil {
		return nil, errors.WrapSystemError("linking.begin", err)
	}

	return &LinkStart{
		Decision: decision,
		AuthURL:  s.custodian.AuthCodeURL(state, s.redirectURI),
	}, nil
}

// CompleteLink finishes the redirect flow: the state envelope is verified,
// the code exchanged, the grant stored encrypted, and the account's first
// scan queued. A bad or stale state token is a validation failure.
func (s *Service) CompleteLink(ctx context.Context, state, code string) (*models.LinkedAccount, error) {
	payload, err := s.signer.Verify(state)
	if err != nil {
		return nil, errors.WrapValidationError("linking.complete", err)
	}
	platform := models.Platform(payload.Platform)
	if !platform.Valid() {
		return nil, errors.WrapValidationError("linking.complete", fmt.Errorf("state names unknown platform %q", payload.Platform))
	}

	// The child may have been deleted while the consent screen sat open.
	child, err := s.store.GetChild(ctx, payload.ChildProfileID)
	if err != nil {
		return nil, err
	}

	tok, err := s.custodian.ExchangeCode(ctx, code, s.redirectURI)
	if err != nil {
		return nil, err
	}
	ident, err := s.Identity(ctx, tok)
	if err != nil {
		return nil, err
	}

	account, err := s.custodian.StoreGrant(ctx, child.ID, platform, ident.AccountID, ident.Username, tok)
	if err != nil {
		return nil, err
	}

	actor := auth.ActorFromContext(ctx)
	audit.Record(ctx, audit.Entry{
		ParentID:     payload.ParentID,
		Action:       string(models.AuditAccountLink),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", account.ID),
		Details: map[string]any{
			"child_profile_id":  child.ID,
			"platform":          string(platform),
			"platform_username": account.PlatformUsername,
		},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})

	if _, err := s.alerts.CreateAccountChangeAlert(ctx, child.ID, linkEvent(platform, account, "linked"), true); err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("Could not record the account change alert")
	}

	s.queueFirstScan(ctx, account.ID)
	return account, nil
}

// Unlink revokes the account's grant with the provider, destroys the stored
// ciphertext, and deactivates the row. The row itself survives so scan
// history stays attached to the child.
func (s *Service) Unlink(ctx context.Context, accountID int64) error {
	account, err := s.store.GetLinkedAccount(ctx, accountID)
	if err != nil {
		return err
	}
	child, err := s.store.GetChild(ctx, account.ChildProfileID)
	if err != nil {
		return err
	}

	if err := s.custodian.Revoke(ctx, accountID); err != nil {
		return err
	}

	actor := auth.ActorFromContext(ctx)
	audit.Record(ctx, audit.Entry{
		ParentID:     child.ParentID,
		Action:       string(models.AuditAccountUnlink),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", account.ID),
		Details: map[string]any{
			"child_profile_id":  child.ID,
			"platform":          string(account.Platform),
			"platform_username": account.PlatformUsername,
		},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})

	if _, err := s.alerts.CreateAccountChangeAlert(ctx, child.ID, linkEvent(account.Platform, account, "unlinked"), true); err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("Could not record the account change alert")
	}
	return nil
}

func (s *Service) queueFirstScan(ctx context.Context, accountID int64) {
	if s.scans == nil {
		return
	}
	taskID, err := s.scans.EnqueueScan(ctx, accountID)
	if err != nil {
		log.Warn().Err(err).Int64("account_id", accountID).
			Msg("First scan could not be queued, the scheduler will cover the account")
		return
	}
	log.Info().Int64("account_id", accountID).Str("task_id", taskID).Msg("First scan queued for linked account")
}

func linkEvent(platform models.Platform, account *models.LinkedAccount, verb string) string {
	name := account.PlatformUsername
	if name == "" {
		name = account.PlatformAccountID
	}
	return fmt.Sprintf("%s account '%s' was %s.", platformLabel(platform), name, verb)
}

func platformLabel(platform models.Platform) string {
	if platform == models.PlatformYouTube {
		return "YouTube"
	}
	return string(platform)
}

// youtubeIdentity asks the platform whose channel the grant controls.
func youtubeIdentity(ctx context.Context, tok *oauth2.Token) (*Identity, error) {
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	ch, err := youtube.OwnChannel(ctx, hc)
	if err != nil {
		return nil, err
	}
	return &Identity{AccountID: ch.ChannelID, Username: ch.Title}, nil
}
