// Package flags is the parent review surface over analysis results. A flag
// judged safe is marked not-harmful rather than deleted, so scan history and
// re-scan idempotency stay intact.
package flags

import (
	"context"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/auth"
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

// MarkNotHarmful records the parent's judgement that a flag is safe and
// returns the updated row. The flag drops out of default listings but keeps
// its keywords and severity.
func (s *Service) MarkNotHarmful(ctx context.Context, resultID, parentID int64) (*models.AnalysisResult, error) {
	if err := s.store.SetResultReview(ctx, resultID, &parentID, true); err != nil {
		return nil, err
	}
	result, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}

	actor := auth.ActorFromContext(ctx)
	audit.Record(ctx, audit.Entry{
		ParentID:     parentID,
		Action:       string(models.AuditMarkNotHarmful),
		ResourceType: "analysis_result",
		ResourceID:   fmt.Sprintf("%d", resultID),
		Details: map[string]any{
			"video_id":      result.VideoID,
			"risk_category": string(result.RiskCategory),
			"severity":      string(result.Severity),
		},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return result, nil
}

// Unmark reverses a not-harmful judgement so the flag counts again.
func (s *Service) Unmark(ctx context.Context, resultID, parentID int64) (*models.AnalysisResult, error) {
	if err := s.store.SetResultReview(ctx, resultID, nil, false); err != nil {
		return nil, err
	}
	result, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}

	actor := auth.ActorFromContext(ctx)
	audit.Record(ctx, audit.Entry{
		ParentID:     parentID,
		Action:       string(models.AuditDataUpdated),
		ResourceType: "analysis_result",
		ResourceID:   fmt.Sprintf("%d", resultID),
		Details: map[string]any{
			"field":         "marked_not_harmful",
			"value":         false,
			"risk_category": string(result.RiskCategory),
		},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return result, nil
}

// ListForChild returns the child's flags across all linked accounts, newest
// first. Reviewed flags are included only when includeMarked.
func (s *Service) ListForChild(ctx context.Context, childID int64, includeMarked bool) ([]*models.AnalysisResult, error) {
	return s.store.ListFlaggedForChild(ctx, childID, includeMarked)
}
