// Package coppa gates account linking on parental consent. A child with a
// known age under 13 needs an active VERIFIED consent record for the
// platform before any linked account may exist.
package coppa

import (
	"context"
	"fmt"
	"time"

	"github.com/nestwatch/nestwatch/internal/auth"
	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

// Decision is the gate's answer for a (child, platform) pair.
type Decision string

const (
	// Allowed means a linked account may exist.
	Allowed Decision = "allowed"
	// RequiresVerification means consent must be submitted first.
	RequiresVerification Decision = "requires_verification"
	// Pending means a submission exists and is waiting for review.
	Pending Decision = "pending"
)

// verifiedValidity is how long an auto-approved consent stays in effect.
const verifiedValidity = 365 * 24 * time.Hour

type Gate struct {
	store *store.Store
}

func New(st *store.Store) *Gate {
	return &Gate{store: st}
}

// EnsureAllowed decides whether a linked account may exist for the child on
// the platform. Children with unknown age or age 13 and over pass outright.
// The check is read-only; it records nothing.
func (g *Gate) EnsureAllowed(ctx context.Context, childID int64, platform models.Platform) (Decision, error) {
	if !platform.Valid() {
		return "", errors.WrapValidationError("coppa.ensure_allowed", fmt.Errorf("unknown platform %q", string(platform)))
	}
	child, err := g.store.GetChild(ctx, childID)
	if err != nil {
		return "", err
	}
	if !child.RequiresConsent() {
		return Allowed, nil
	}

	if _, err := g.store.ActiveVerification(ctx, childID, platform, time.Now()); err == nil {
		return Allowed, nil
	} else if !errors.IsNotFound(err) {
		return "", err
	}

	list, err := g.store.ListVerifications(ctx, childID, platform)
	if err != nil {
		return "", err
	}
	for _, v := range list {
		if v.Status == models.VerificationPending {
			return Pending, nil
		}
	}
	return RequiresVerification, nil
}

// Submit records a consent attempt. CREDIT_CARD and DIGITAL_SIGNATURE are
// approved at submission with a year of validity; AGE_CHECK and
// DOCUMENT_UPLOAD wait as PENDING until reviewed. The opaque data blob is
// stored with the record and kept out of the audit trail.
func (g *Gate) Submit(ctx context.Context, childID int64, platform models.Platform, method models.VerificationMethod, data map[string]any) (*models.CoppaVerification, error) {
	if !platform.Valid() {
		return nil, errors.WrapValidationError("coppa.submit", fmt.Errorf("unknown platform %q", string(platform)))
	}
	if !method.Valid() {
		return nil, errors.WrapValidationError("coppa.submit", fmt.Errorf("unknown verification method %q", string(method)))
	}
	child, err := g.store.GetChild(ctx, childID)
	if err != nil {
		return nil, err
	}

	v := &models.CoppaVerification{
		ChildProfileID: childID,
		Platform:       platform,
		Method:         method,
		Status:         models.VerificationPending,
		Data:           data,
	}
	if method.AutoApproves() {
		now := time.Now().UTC()
		expires := now.Add(verifiedValidity)
		v.Status = models.VerificationVerified
		v.VerifiedAt = &now
		v.ExpiresAt = &expires
		v.Notes = "auto-approved at submission"
	}

	created, err := g.store.CreateVerification(ctx, v)
	if err != nil {
		return nil, err
	}

	actor := auth.ActorFromContext(ctx)
	audit.Record(ctx, audit.Entry{
		ParentID:     child.ParentID,
		Action:       string(models.AuditDataCreated),
		ResourceType: "coppa_verification",
		ResourceID:   fmt.Sprintf("%d", created.ID),
		Details: map[string]any{
			"child_profile_id": childID,
			"platform":         string(platform),
			"method":           string(method),
			"status":           string(created.Status),
		},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return created, nil
}

// Review resolves a PENDING record. Approval grants a year of validity from
// the moment of review; rejection leaves the child without consent. Records
// that already left PENDING cannot be reviewed again.
func (g *Gate) Review(ctx context.Context, verificationID int64, approved bool) (*models.CoppaVerification, error) {
	v, err := g.store.GetVerification(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VerificationPending {
		return nil, errors.WrapValidationError("coppa.review",
			fmt.Errorf("verification %d is %s, not PENDING", verificationID, string(v.Status)))
	}
	child, err := g.store.GetChild(ctx, v.ChildProfileID)
	if err != nil {
		return nil, err
	}

	status := models.VerificationRejected
	var verifiedAt, expiresAt *time.Time
	if approved {
		now := time.Now().UTC()
		expires := now.Add(verifiedValidity)
		status = models.VerificationVerified
		verifiedAt, expiresAt = &now, &expires
	}
	if err := g.store.UpdateVerificationStatus(ctx, verificationID, status, verifiedAt, expiresAt); err != nil {
		return nil, err
	}

	actor := auth.ActorFromContext(ctx)
	audit.Record(ctx, audit.Entry{
		ParentID:     child.ParentID,
		Action:       string(models.AuditDataUpdated),
		ResourceType: "coppa_verification",
		ResourceID:   fmt.Sprintf("%d", verificationID),
		Details: map[string]any{
			"child_profile_id": v.ChildProfileID,
			"platform":         string(v.Platform),
			"method":           string(v.Method),
			"status":           string(status),
		},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return g.store.GetVerification(ctx, verificationID)
}
