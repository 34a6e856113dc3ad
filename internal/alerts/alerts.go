// Package alerts synthesizes the notification rows a parent sees and hands
// them to the delivery layer. The row write is authoritative; delivery is
// best-effort and never fails the write.
package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nestwatch/nestwatch/internal/metrics"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/notifications"
	"github.com/nestwatch/nestwatch/internal/store"
)

// Synthesizer writes alerts for a child and notifies the owning parent.
// A nil notifier keeps the rows and skips delivery.
type Synthesizer struct {
	store    *store.Store
	notifier notifications.Notifier
}

func New(st *store.Store, notifier notifications.Notifier) *Synthesizer {
	return &Synthesizer{store: st, notifier: notifier}
}

// CreateScanCompleteAlert records that a scan over the child's linked
// account finished.
func (s *Synthesizer) CreateScanCompleteAlert(ctx context.Context, childID int64, channelsCount, flaggedCount int, notify bool) (*models.Alert, error) {
	return s.create(ctx, &models.Alert{
		ChildProfileID: childID,
		AlertType:      models.AlertScanComplete,
		Title:          "Scan complete",
		Message:        fmt.Sprintf("Scanned %d subscribed channels and flagged %d items.", channelsCount, flaggedCount),
		SummaryData: map[string]any{
			"channels_scanned": channelsCount,
			"flagged_count":    flaggedCount,
		},
	}, notify)
}

// CreateNewFlagsAlert records that a scan raised new flags, with the
// deduplicated categories it observed.
func (s *Synthesizer) CreateNewFlagsAlert(ctx context.Context, childID int64, newFlags int, categories []models.RiskCategory, notify bool) (*models.Alert, error) {
	msg := fmt.Sprintf("The latest scan flagged %d new items.", newFlags)
	if len(categories) > 0 {
		msg = fmt.Sprintf("The latest scan flagged %d new items (%s).", newFlags, displayCategories(categories))
	}
	return s.create(ctx, &models.Alert{
		ChildProfileID: childID,
		AlertType:      models.AlertNewFlags,
		Title:          "New flagged content",
		Message:        msg,
		SummaryData: map[string]any{
			"new_flags":  newFlags,
			"categories": categoryNames(categories),
		},
	}, notify)
}

// CreateHighRiskAlert records that a scan found at least one high-severity
// flag in the given categories.
func (s *Synthesizer) CreateHighRiskAlert(ctx context.Context, childID int64, categories []models.RiskCategory, notify bool) (*models.Alert, error) {
	msg := "High-severity content was flagged on a subscribed channel."
	if len(categories) > 0 {
		msg = fmt.Sprintf("High-severity content was flagged on a subscribed channel (%s).", displayCategories(categories))
	}
	return s.create(ctx, &models.Alert{
		ChildProfileID: childID,
		AlertType:      models.AlertHighRisk,
		Title:          "High-risk content detected",
		Message:        msg,
		SummaryData: map[string]any{
			"categories": categoryNames(categories),
			"severity":   string(models.SeverityHigh),
		},
	}, notify)
}

// CreateAccountChangeAlert records a linked-account lifecycle event. The
// event text becomes the alert message as-is.
func (s *Synthesizer) CreateAccountChangeAlert(ctx context.Context, childID int64, event string, notify bool) (*models.Alert, error) {
	return s.create(ctx, &models.Alert{
		ChildProfileID: childID,
		AlertType:      models.AlertAccountChange,
		Title:          "Linked account changed",
		Message:        event,
		SummaryData: map[string]any{
			"event": event,
		},
	}, notify)
}

// MarkRead marks one alert read and returns the updated row. A second call
// keeps the original read instant.
func (s *Synthesizer) MarkRead(ctx context.Context, alertID int64) (*models.Alert, error) {
	if err := s.store.MarkAlertRead(ctx, alertID); err != nil {
		return nil, err
	}
	return s.store.GetAlert(ctx, alertID)
}

// MarkAllRead marks every unread alert for the child and returns how many
// changed.
func (s *Synthesizer) MarkAllRead(ctx context.Context, childID int64) (int64, error) {
	return s.store.MarkAllAlertsRead(ctx, childID)
}

func (s *Synthesizer) create(ctx context.Context, a *models.Alert, notify bool) (*models.Alert, error) {
	created, err := s.store.CreateAlert(ctx, a)
	if err != nil {
		return nil, err
	}
	metrics.RecordAlert(string(created.AlertType))
	if notify {
		s.deliver(ctx, created)
	}
	return created, nil
}

// deliver resolves the owning parent and hands the alert to the notifier.
// Failures are logged; the alert row already exists and is what the parent
// sees on next login regardless.
func (s *Synthesizer) deliver(ctx context.Context, a *models.Alert) {
	if s.notifier == nil {
		return
	}
	child, err := s.store.GetChild(ctx, a.ChildProfileID)
	if err != nil {
		log.Warn().Err(err).Int64("alert_id", a.ID).Int64("child_profile_id", a.ChildProfileID).
			Msg("Could not resolve the owning parent, alert stays undelivered")
		return
	}
	d := s.notifier.Notify(ctx, child.ParentID, notifications.Notification{
		Type:    a.AlertType,
		Subject: a.Title,
		Body:    a.Message,
		Data:    deliveryData(a),
	})
	log.Debug().
		Int64("alert_id", a.ID).
		Str("type", string(a.AlertType)).
		Bool("email", d.Email).
		Bool("push", d.Push).
		Msg("Alert delivery attempted")
}

// deliveryData builds the push data payload: the alert's summary plus enough
// identity for a client to deep-link.
func deliveryData(a *models.Alert) map[string]any {
	data := make(map[string]any, len(a.SummaryData)+3)
	for k, v := range a.SummaryData {
		data[k] = v
	}
	data["alert_id"] = a.ID
	data["alert_type"] = string(a.AlertType)
	data["child_profile_id"] = a.ChildProfileID
	return data
}

func categoryNames(categories []models.RiskCategory) []string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	return names
}

// displayCategories renders canonical category names as readable message
// text: "HATE_SPEECH" becomes "hate speech".
func displayCategories(categories []models.RiskCategory) string {
	parts := make([]string, len(categories))
	for i, c := range categories {
		parts[i] = strings.ReplaceAll(strings.ToLower(string(c)), "_", " ")
	}
	return strings.Join(parts, ", ")
}
