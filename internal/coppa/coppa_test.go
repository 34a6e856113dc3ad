package coppa

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

type gateFixture struct {
	gate   *Gate
	store  *store.Store
	parent *models.ParentUser
	rec    *audit.MemoryLogger
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "coppa.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rec := audit.NewMemoryLogger()
	audit.SetLogger(rec)
	t.Cleanup(func() { audit.SetLogger(nil) })

	ctx := context.Background()
	parent, err := st.CreateParent(ctx, "parent@example.com", "hashed")
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	return &gateFixture{gate: New(st), store: st, parent: parent, rec: rec}
}

func (fx *gateFixture) child(t *testing.T, age *int) *models.ChildProfile {
	t.Helper()
	child, err := fx.store.CreateChild(context.Background(), fx.parent.ID, "Robin", age)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return child
}

func intPtr(n int) *int { return &n }

func TestEnsureAllowedWithoutConsentRequirement(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()

	for name, age := range map[string]*int{"unknown age": nil, "thirteen": intPtr(13), "older": intPtr(16)} {
		child := fx.child(t, age)
		d, err := fx.gate.EnsureAllowed(ctx, child.ID, models.PlatformYouTube)
		if err != nil {
			t.Fatalf("%s: EnsureAllowed error: %v", name, err)
		}
		if d != Allowed {
			t.Errorf("%s: expected Allowed, got %s", name, d)
		}
	}
}

func TestEnsureAllowedUnderThirteen(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	d, err := fx.gate.EnsureAllowed(ctx, child.ID, models.PlatformYouTube)
	if err != nil {
		t.Fatalf("EnsureAllowed error: %v", err)
	}
	if d != RequiresVerification {
		t.Errorf("no consent on file: expected RequiresVerification, got %s", d)
	}
	if entries := fx.rec.Entries(); len(entries) != 0 {
		t.Errorf("decision checks are read-only, got %d audit entries", len(entries))
	}
}

func TestSubmitAgeCheckLeavesGatePending(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	created, err := fx.gate.Submit(ctx, child.ID, models.PlatformYouTube, models.MethodAgeCheck,
		map[string]any{"claimed_age": 10})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if created.Status != models.VerificationPending {
		t.Errorf("age check must wait for review, got %s", created.Status)
	}
	if created.VerifiedAt != nil || created.ExpiresAt != nil {
		t.Errorf("pending records carry no instants: %+v", created)
	}

	d, err := fx.gate.EnsureAllowed(ctx, child.ID, models.PlatformYouTube)
	if err != nil {
		t.Fatalf("EnsureAllowed error: %v", err)
	}
	if d != Pending {
		t.Errorf("expected Pending, got %s", d)
	}
}

func TestSubmitCreditCardAutoApprovesAndAllows(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	created, err := fx.gate.Submit(ctx, child.ID, models.PlatformYouTube, models.MethodCreditCard,
		map[string]any{"card_last4": "4242"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if created.Status != models.VerificationVerified {
		t.Fatalf("credit card auto-approves, got %s", created.Status)
	}
	if created.VerifiedAt == nil || created.ExpiresAt == nil {
		t.Fatalf("approved records carry both instants: %+v", created)
	}
	validity := created.ExpiresAt.Sub(*created.VerifiedAt)
	if validity != 365*24*time.Hour {
		t.Errorf("expected a year of validity, got %s", validity)
	}

	d, err := fx.gate.EnsureAllowed(ctx, child.ID, models.PlatformYouTube)
	if err != nil {
		t.Fatalf("EnsureAllowed error: %v", err)
	}
	if d != Allowed {
		t.Errorf("expected Allowed after auto-approval, got %s", d)
	}
}

func TestExpiredConsentRequiresVerificationAgain(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	verifiedAt := time.Now().UTC().Add(-400 * 24 * time.Hour)
	expiresAt := time.Now().UTC().Add(-35 * 24 * time.Hour)
	if _, err := fx.store.CreateVerification(ctx, &models.CoppaVerification{
		ChildProfileID: child.ID,
		Platform:       models.PlatformYouTube,
		Method:         models.MethodCreditCard,
		Status:         models.VerificationVerified,
		VerifiedAt:     &verifiedAt,
		ExpiresAt:      &expiresAt,
	}); err != nil {
		t.Fatalf("create expired verification: %v", err)
	}

	d, err := fx.gate.EnsureAllowed(ctx, child.ID, models.PlatformYouTube)
	if err != nil {
		t.Fatalf("EnsureAllowed error: %v", err)
	}
	if d != RequiresVerification {
		t.Errorf("expired consent grants nothing: expected RequiresVerification, got %s", d)
	}
}

func TestRejectedSubmissionDoesNotHoldTheGate(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	created, err := fx.gate.Submit(ctx, child.ID, models.PlatformYouTube, models.MethodDocumentUpload, nil)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	rejected, err := fx.gate.Review(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if rejected.Status != models.VerificationRejected {
		t.Fatalf("expected REJECTED, got %s", rejected.Status)
	}
	if rejected.VerifiedAt != nil || rejected.ExpiresAt != nil {
		t.Errorf("rejected records carry no instants: %+v", rejected)
	}

	d, err := fx.gate.EnsureAllowed(ctx, child.ID, models.PlatformYouTube)
	if err != nil {
		t.Fatalf("EnsureAllowed error: %v", err)
	}
	if d != RequiresVerification {
		t.Errorf("rejected submissions are not pending: expected RequiresVerification, got %s", d)
	}
}

func TestSubmitAuditsWithoutTheDataBlob(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	if _, err := fx.gate.Submit(ctx, child.ID, models.PlatformYouTube, models.MethodDigitalSignature,
		map[string]any{"signature": "opaque-consent-payload"}); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	entries := fx.rec.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != string(models.AuditDataCreated) || e.ResourceType != "coppa_verification" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if e.ParentID != fx.parent.ID {
		t.Errorf("audit must attribute the owning parent: %+v", e)
	}
	if e.Details["status"] != "VERIFIED" || e.Details["method"] != "DIGITAL_SIGNATURE" {
		t.Errorf("audit details: %#v", e.Details)
	}
	for k, v := range e.Details {
		if s, ok := v.(string); ok && s == "opaque-consent-payload" {
			t.Errorf("submission data leaked into audit details under %q", k)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	if _, err := fx.gate.Submit(ctx, child.ID, models.PlatformYouTube, "credit_card", nil); !errors.IsValidation(err) {
		t.Errorf("expected validation error for lowercase method, got %v", err)
	}
	if _, err := fx.gate.Submit(ctx, child.ID, "youtube", models.MethodCreditCard, nil); !errors.IsValidation(err) {
		t.Errorf("expected validation error for lowercase platform, got %v", err)
	}
	if _, err := fx.gate.Submit(ctx, 9999, models.PlatformYouTube, models.MethodCreditCard, nil); !errors.IsNotFound(err) {
		t.Errorf("expected not-found for unknown child, got %v", err)
	}
	if entries := fx.rec.Entries(); len(entries) != 0 {
		t.Errorf("failed submissions must not audit, got %d entries", len(entries))
	}
}

func TestReviewApprovalOpensTheGate(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	created, err := fx.gate.Submit(ctx, child.ID, models.PlatformYouTube, models.MethodDocumentUpload, nil)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	approved, err := fx.gate.Review(ctx, created.ID, true)
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if approved.Status != models.VerificationVerified {
		t.Fatalf("expected VERIFIED, got %s", approved.Status)
	}
	if approved.VerifiedAt == nil || approved.ExpiresAt == nil {
		t.Fatalf("approved records carry both instants: %+v", approved)
	}
	if validity := approved.ExpiresAt.Sub(*approved.VerifiedAt); validity != 365*24*time.Hour {
		t.Errorf("expected a year of validity, got %s", validity)
	}

	d, err := fx.gate.EnsureAllowed(ctx, child.ID, models.PlatformYouTube)
	if err != nil {
		t.Fatalf("EnsureAllowed error: %v", err)
	}
	if d != Allowed {
		t.Errorf("expected Allowed after review, got %s", d)
	}

	entries := fx.rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected submit and review audit entries, got %d", len(entries))
	}
	e := entries[1]
	if e.Action != string(models.AuditDataUpdated) || e.ResourceType != "coppa_verification" {
		t.Errorf("unexpected review audit entry: %+v", e)
	}
	if e.ParentID != fx.parent.ID {
		t.Errorf("audit must attribute the owning parent: %+v", e)
	}
	if e.Details["status"] != "VERIFIED" {
		t.Errorf("audit details: %#v", e.Details)
	}
}

func TestReviewOnlyResolvesPendingRecords(t *testing.T) {
	fx := newGateFixture(t)
	ctx := context.Background()
	child := fx.child(t, intPtr(9))

	created, err := fx.gate.Submit(ctx, child.ID, models.PlatformYouTube, models.MethodAgeCheck, nil)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if _, err := fx.gate.Review(ctx, created.ID, true); err != nil {
		t.Fatalf("first review: %v", err)
	}
	if _, err := fx.gate.Review(ctx, created.ID, false); !errors.IsValidation(err) {
		t.Errorf("resolved records cannot be reviewed again, got %v", err)
	}

	auto, err := fx.gate.Submit(ctx, child.ID, models.PlatformYouTube, models.MethodCreditCard, nil)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if _, err := fx.gate.Review(ctx, auto.ID, true); !errors.IsValidation(err) {
		t.Errorf("auto-approved records are not pending, got %v", err)
	}

	if _, err := fx.gate.Review(ctx, 9999, true); !errors.IsNotFound(err) {
		t.Errorf("expected not-found for unknown verification, got %v", err)
	}
}

func TestEnsureAllowedUnknownChild(t *testing.T) {
	fx := newGateFixture(t)

	if _, err := fx.gate.EnsureAllowed(context.Background(), 9999, models.PlatformYouTube); !errors.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
