// Package profiles manages the guardian and child account lifecycle. Every
// mutation lands in the audit trail; deleting a child profile takes its
// linked accounts, consent records, scan data, and alerts with it.
package profiles

import (
	"context"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/auth"
	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

type Service struct {
	store *store.Store
}

func New(st *store.Store) *Service {
	return &Service{store: st}
}

// BootstrapParent creates a guardian account from a plaintext password,
// enforcing the length floor and storing only the bcrypt hash.
func (s *Service) BootstrapParent(ctx context.Context, email, password string) (*models.ParentUser, error) {
	if err := auth.ValidatePasswordComplexity(password); err != nil {
		return nil, errors.WrapValidationError("profiles.bootstrap_parent", err)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	parent, err := s.store.CreateParent(ctx, email, hashed)
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, audit.Entry{
		ParentID:     parent.ID,
		Action:       string(models.AuditDataCreated),
		ResourceType: "parent_user",
		ResourceID:   fmt.Sprintf("%d", parent.ID),
		Details:      map[string]any{"email": parent.Email},
	})
	return parent, nil
}

// CreateChild adds a child profile under the parent.
func (s *Service) CreateChild(ctx context.Context, parentID int64, displayName string, age *int) (*models.ChildProfile, error) {
	child, err := s.store.CreateChild(ctx, parentID, displayName, age)
	if err != nil {
		return nil, err
	}

	details := map[string]any{"display_name": child.DisplayName}
	if child.Age != nil {
		details["age"] = *child.Age
	}
	s.recordProfileAudit(ctx, models.AuditProfileCreate, parentID, child.ID, details)
	return child, nil
}

// UpdateChild replaces display name and age and returns the updated profile.
// A nil age clears a previously known age.
func (s *Service) UpdateChild(ctx context.Context, childID int64, displayName string, age *int) (*models.ChildProfile, error) {
	if err := s.store.UpdateChild(ctx, childID, displayName, age); err != nil {
		return nil, err
	}
	child, err := s.store.GetChild(ctx, childID)
	if err != nil {
		return nil, err
	}

	details := map[string]any{"display_name": child.DisplayName}
	if child.Age != nil {
		details["age"] = *child.Age
	}
	s.recordProfileAudit(ctx, models.AuditProfileUpdate, child.ParentID, childID, details)
	return child, nil
}

// SetChildActive toggles the soft-delete flag. Inactive profiles keep their
// data but drop out of scan scheduling once their accounts deactivate.
func (s *Service) SetChildActive(ctx context.Context, childID int64, active bool) error {
	child, err := s.store.GetChild(ctx, childID)
	if err != nil {
		return err
	}
	if err := s.store.SetChildActive(ctx, childID, active); err != nil {
		return err
	}

	s.recordProfileAudit(ctx, models.AuditProfileUpdate, child.ParentID, childID, map[string]any{
		"is_active": active,
	})
	return nil
}

// DeleteChild removes the profile and everything beneath it.
func (s *Service) DeleteChild(ctx context.Context, childID int64) error {
	child, err := s.store.GetChild(ctx, childID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteChild(ctx, childID); err != nil {
		return err
	}

	s.recordProfileAudit(ctx, models.AuditProfileDelete, child.ParentID, childID, map[string]any{
		"display_name": child.DisplayName,
	})
	return nil
}

// ListChildren returns every profile under the parent, active first.
func (s *Service) ListChildren(ctx context.Context, parentID int64) ([]*models.ChildProfile, error) {
	return s.store.ListChildren(ctx, parentID)
}

func (s *Service) recordProfileAudit(ctx context.Context, action models.AuditAction, parentID, childID int64, details map[string]any) {
	actor := auth.ActorFromContext(ctx)
	audit.Record(ctx, audit.Entry{
		ParentID:     parentID,
		Action:       string(action),
		ResourceType: "child_profile",
		ResourceID:   fmt.Sprintf("%d", childID),
		Details:      details,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
	})
}
