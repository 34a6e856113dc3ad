// Package models defines the persisted entities of the oversight domain and
// their canonical wire forms.
package models

import (
	"time"
)

// ParentUser is an authenticated guardian account. Rows are never deleted
// while active children exist; deactivation is a soft flag.
type ParentUser struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChildProfile is a child under a parent's oversight. Age may be unknown.
type ChildProfile struct {
	ID          int64     `json:"id"`
	ParentID    int64     `json:"parent_id"`
	DisplayName string    `json:"display_name"`
	Age         *int      `json:"age,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RequiresConsent reports whether COPPA applies: a known age under 13.
func (c *ChildProfile) RequiresConsent() bool {
	return c.Age != nil && *c.Age < 13
}

// LinkedAccount binds a child profile to a remote platform identity.
// Token material is stored only as ciphertext; plaintext exists in memory
// inside the custodian and nowhere else.
type LinkedAccount struct {
	ID                     int64      `json:"id"`
	ChildProfileID         int64      `json:"child_profile_id"`
	Platform               Platform   `json:"platform"`
	PlatformAccountID      string     `json:"platform_account_id"`
	PlatformUsername       string     `json:"platform_username"`
	AccessTokenCiphertext  []byte     `json:"-"`
	RefreshTokenCiphertext []byte     `json:"-"`
	TokenExpiry            *time.Time `json:"token_expiry,omitempty"`
	Scopes                 string     `json:"scopes"`
	LastScanAt             *time.Time `json:"last_scan_at,omitempty"`
	IsActive               bool       `json:"is_active"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// HasRefreshToken reports whether a refresh credential is stored.
func (a *LinkedAccount) HasRefreshToken() bool {
	return len(a.RefreshTokenCiphertext) > 0
}

// CoppaVerification is one parental-consent record for a (child, platform) pair.
type CoppaVerification struct {
	ID             int64              `json:"id"`
	ChildProfileID int64              `json:"child_profile_id"`
	Platform       Platform           `json:"platform"`
	Method         VerificationMethod `json:"method"`
	Status         VerificationStatus `json:"status"`
	VerifiedAt     *time.Time         `json:"verified_at,omitempty"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	Data           map[string]any     `json:"data,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ActiveAt reports whether the record grants consent at the given instant:
// VERIFIED and not yet expired.
func (v *CoppaVerification) ActiveAt(now time.Time) bool {
	if v.Status != VerificationVerified {
		return false
	}
	if v.ExpiresAt == nil {
		return true
	}
	return v.ExpiresAt.After(now)
}

// SubscribedChannel is a channel observed on a linked account's subscription
// list, refreshed on each scan that sees it.
type SubscribedChannel struct {
	ID              int64      `json:"id"`
	LinkedAccountID int64      `json:"linked_account_id"`
	ChannelID       string     `json:"channel_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	SubscriberCount int64      `json:"subscriber_count,omitempty"`
	VideoCount      int64      `json:"video_count,omitempty"`
	TopicDetails    []string   `json:"topic_details,omitempty"`
	LastFetchedAt   *time.Time `json:"last_fetched_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AnalyzedVideo is one upload examined by the analyzer. Scans upsert by
// VideoPlatformID, which is globally unique.
type AnalyzedVideo struct {
	ID              int64      `json:"id"`
	ChannelID       int64      `json:"channel_id"`
	VideoPlatformID string     `json:"video_platform_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	DurationSeconds int64      `json:"duration,omitempty"`
	ViewCount       int64      `json:"view_count,omitempty"`
	LikeCount       int64      `json:"like_count,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AnalysisResult is one flag: a risk category hit on a video. One row exists
// per (video, category); repeat observations union keywords and keep the
// higher severity.
type AnalysisResult struct {
	ID                 int64        `json:"id"`
	VideoID            int64        `json:"video_id"`
	ChannelID          int64        `json:"channel_id"`
	RiskCategory       RiskCategory `json:"risk_category"`
	Severity           Severity     `json:"severity"`
	FlaggedText        string       `json:"flagged_text"`
	KeywordsMatched    []string     `json:"keywords_matched"`
	ConfidenceScore    float64      `json:"confidence_score"`
	MarkedNotHarmful   bool         `json:"marked_not_harmful"`
	MarkedNotHarmfulAt *time.Time   `json:"marked_not_harmful_at,omitempty"`
	MarkedNotHarmfulBy *int64       `json:"marked_not_harmful_by,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Alert is a synthesized notification row for a parent about a child.
type Alert struct {
	ID             int64          `json:"id"`
	ChildProfileID int64          `json:"child_profile_id"`
	AlertType      AlertType      `json:"alert_type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	SummaryData    map[string]any `json:"summary_data,omitempty"`
	IsRead         bool           `json:"is_read"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NotificationPreferences holds a parent's delivery toggles, one row per parent.
type NotificationPreferences struct {
	ID                 int64     `json:"id"`
	ParentID           int64     `json:"parent_id"`
	EmailEnabled       bool      `json:"email_enabled"`
	PushEnabled        bool      `json:"push_enabled"`
	AlertScanComplete  bool      `json:"alert_scan_complete"`
	AlertNewFlags      bool      `json:"alert_new_flags"`
	AlertHighRisk      bool      `json:"alert_high_risk"`
	AlertAccountChange bool      `json:"alert_account_change"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// WantsType reports whether the parent opted into this alert type.
func (p *NotificationPreferences) WantsType(t AlertType) bool {
	switch t {
	case AlertScanComplete:
		return p.AlertScanComplete
	case AlertNewFlags:
		return p.AlertNewFlags
	case AlertHighRisk:
		return p.AlertHighRisk
	case AlertAccountChange:
		return p.AlertAccountChange
	}
	return false
}

// DefaultNotificationPreferences is what a parent gets before saving any:
// every channel and alert type enabled.
func DefaultNotificationPreferences(parentID int64) *NotificationPreferences {
	return &NotificationPreferences{
		ParentID:           parentID,
		EmailEnabled:       true,
		PushEnabled:        true,
		AlertScanComplete:  true,
		AlertNewFlags:      true,
		AlertHighRisk:      true,
		AlertAccountChange: true,
	}
}

// DeviceToken is a push-transport registration for a parent's device.
type DeviceToken struct {
	ID        int64     `json:"id"`
	ParentID  int64     `json:"parent_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
