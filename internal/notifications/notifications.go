// Package notifications fans alerts out to a parent's enabled delivery
// channels. Delivery is best-effort: failures are logged and reflected in
// the Delivery flags, never returned, so a dead SMTP relay cannot fail the
// scan that produced the alert.
package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwatch/nestwatch/internal/config"
	"github.com/nestwatch/nestwatch/internal/metrics"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/store"
)

// sendTimeout bounds each outbound delivery attempt.
const sendTimeout = 10 * time.Second

// Notification is one message to deliver, already rendered.
type Notification struct {
	Type    models.AlertType
	Subject string
	Body    string
	Data    map[string]any
}

// Delivery reports which channels actually carried the notification.
type Delivery struct {
	Email bool
	Push  bool
}

// Notifier is what the alert synthesizer delivers through.
type Notifier interface {
	Notify(ctx context.Context, parentID int64, n Notification) Delivery
}

// EmailSender delivers one message to one recipient.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PushSender delivers one notification to a set of device registrations.
type PushSender interface {
	Send(ctx context.Context, tokens []string, n Notification) error
}

// Manager routes notifications through the parent's preferences. A nil
// sender means the channel is disabled service-wide.
type Manager struct {
	store *store.Store
	email EmailSender
	push  PushSender
}

func New(st *store.Store, cfg *config.Config) *Manager {
	m := &Manager{store: st}
	if cfg.EmailEnabled {
		m.email = NewSMTPSender(cfg)
	}
	if cfg.PushEnabled {
		m.push = NewFCMSender(cfg.FCMAPIKey)
	}
	return m
}

// Notify delivers n to the parent over every channel that is enabled both
// service-wide and in the parent's preferences.
func (m *Manager) Notify(ctx context.Context, parentID int64, n Notification) Delivery {
	var d Delivery

	prefs, err := m.store.GetPreferences(ctx, parentID)
	if err != nil {
		log.Warn().Err(err).Int64("parent_id", parentID).Msg("Could not load notification preferences")
		return d
	}
	if !prefs.WantsType(n.Type) {
		log.Debug().Int64("parent_id", parentID).Str("type", string(n.Type)).
			Msg("Parent opted out of this alert type")
		return d
	}

	if m.email != nil && prefs.EmailEnabled {
		d.Email = m.sendEmail(ctx, parentID, n)
	}
	if m.push != nil && prefs.PushEnabled {
		d.Push = m.sendPush(ctx, parentID, n)
	}
	return d
}

func (m *Manager) sendEmail(ctx context.Context, parentID int64, n Notification) bool {
	parent, err := m.store.GetParent(ctx, parentID)
	if err != nil {
		log.Warn().Err(err).Int64("parent_id", parentID).Msg("Could not resolve parent for email delivery")
		metrics.RecordNotification("email", "failed")
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := m.email.Send(sendCtx, parent.Email, n.Subject, n.Body); err != nil {
		log.Warn().Err(err).Int64("parent_id", parentID).Msg("Email delivery failed")
		metrics.RecordNotification("email", "failed")
		return false
	}

	metrics.RecordNotification("email", "sent")
	return true
}

func (m *Manager) sendPush(ctx context.Context, parentID int64, n Notification) bool {
	devices, err := m.store.ListActiveDeviceTokens(ctx, parentID)
	if err != nil {
		log.Warn().Err(err).Int64("parent_id", parentID).Msg("Could not list device registrations")
		metrics.RecordNotification("push", "failed")
		return false
	}
	if len(devices) == 0 {
		return false
	}
	tokens := make([]string, len(devices))
	for i, dev := range devices {
		tokens[i] = dev.Token
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := m.push.Send(sendCtx, tokens, n); err != nil {
		log.Warn().Err(err).Int64("parent_id", parentID).Msg("Push delivery failed")
		metrics.RecordNotification("push", "failed")
		return false
	}

	metrics.RecordNotification("push", "sent")
	return true
}
