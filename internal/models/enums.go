package models

import (
	"encoding/json"
	"fmt"
)

// Platform is the remote identity provider a child account lives on.
// Canonical wire form is the UPPER_SNAKE name; any other casing is rejected
// at boundaries.
type Platform string

const (
	PlatformYouTube Platform = "YOUTUBE"
)

// ParsePlatform validates the canonical wire form
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformYouTube:
		return Platform(s), nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

func (p Platform) Valid() bool {
	_, err := ParsePlatform(string(p))
	return err == nil
}

func (p *Platform) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePlatform(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// RiskCategory classifies what kind of harm a keyword hit indicates.
type RiskCategory string

const (
	RiskHateSpeech          RiskCategory = "HATE_SPEECH"
	RiskSelfHarm            RiskCategory = "SELF_HARM"
	RiskGraphicViolence     RiskCategory = "GRAPHIC_VIOLENCE"
	RiskExplicitContent     RiskCategory = "EXPLICIT_CONTENT"
	RiskBullying            RiskCategory = "BULLYING"
	RiskDangerousChallenges RiskCategory = "DANGEROUS_CHALLENGES"
	RiskMisinformation      RiskCategory = "MISINFORMATION"
)

// RiskCategories lists every category in stable order.
func RiskCategories() []RiskCategory {
	return []RiskCategory{
		RiskHateSpeech,
		RiskSelfHarm,
		RiskGraphicViolence,
		RiskExplicitContent,
		RiskBullying,
		RiskDangerousChallenges,
		RiskMisinformation,
	}
}

// ParseRiskCategory validates the canonical wire form
func ParseRiskCategory(s string) (RiskCategory, error) {
	switch RiskCategory(s) {
	case RiskHateSpeech, RiskSelfHarm, RiskGraphicViolence, RiskExplicitContent,
		RiskBullying, RiskDangerousChallenges, RiskMisinformation:
		return RiskCategory(s), nil
	}
	return "", fmt.Errorf("unknown risk category %q", s)
}

func (r RiskCategory) Valid() bool {
	_, err := ParseRiskCategory(string(r))
	return err == nil
}

func (r *RiskCategory) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskCategory(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Severity grades a flag. Canonical wire form is lowercase.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity validates the canonical wire form
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

func (s Severity) Valid() bool {
	_, err := ParseSeverity(string(s))
	return err == nil
}

// Rank orders severities for max-merge: low < medium < high.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// MaxSeverity returns the higher of the two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AlertType classifies synthesized alerts.
type AlertType string

const (
	AlertScanComplete  AlertType = "SCAN_COMPLETE"
	AlertNewFlags      AlertType = "NEW_FLAGS"
	AlertHighRisk      AlertType = "HIGH_RISK"
	AlertAccountChange AlertType = "ACCOUNT_CHANGE"
)

// ParseAlertType validates the canonical wire form
func ParseAlertType(s string) (AlertType, error) {
	switch AlertType(s) {
	case AlertScanComplete, AlertNewFlags, AlertHighRisk, AlertAccountChange:
		return AlertType(s), nil
	}
	return "", fmt.Errorf("unknown alert type %q", s)
}

func (a AlertType) Valid() bool {
	_, err := ParseAlertType(string(a))
	return err == nil
}

func (a *AlertType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAlertType(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// VerificationMethod is how a parent proved consent for an under-13 child.
type VerificationMethod string

const (
	MethodAgeCheck         VerificationMethod = "AGE_CHECK"
	MethodCreditCard       VerificationMethod = "CREDIT_CARD"
	MethodDigitalSignature VerificationMethod = "DIGITAL_SIGNATURE"
	MethodDocumentUpload   VerificationMethod = "DOCUMENT_UPLOAD"
)

// ParseVerificationMethod validates the canonical wire form
func ParseVerificationMethod(s string) (VerificationMethod, error) {
	switch VerificationMethod(s) {
	case MethodAgeCheck, MethodCreditCard, MethodDigitalSignature, MethodDocumentUpload:
		return VerificationMethod(s), nil
	}
	return "", fmt.Errorf("unknown verification method %q", s)
}

func (m VerificationMethod) Valid() bool {
	_, err := ParseVerificationMethod(string(m))
	return err == nil
}

// AutoApproves reports whether this method is approved without review.
func (m VerificationMethod) AutoApproves() bool {
	return m == MethodCreditCard || m == MethodDigitalSignature
}

// VerificationStatus is the state of a consent record.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
	VerificationExpired  VerificationStatus = "EXPIRED"
)

// ParseVerificationStatus validates the canonical wire form
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	switch VerificationStatus(s) {
	case VerificationPending, VerificationVerified, VerificationRejected, VerificationExpired:
		return VerificationStatus(s), nil
	}
	return "", fmt.Errorf("unknown verification status %q", s)
}

func (v VerificationStatus) Valid() bool {
	_, err := ParseVerificationStatus(string(v))
	return err == nil
}

// AuditAction enumerates everything the audit log records.
type AuditAction string

const (
	AuditUserLogin      AuditAction = "USER_LOGIN"
	AuditUserLogout     AuditAction = "USER_LOGOUT"
	AuditProfileCreate  AuditAction = "PROFILE_CREATE"
	AuditProfileUpdate  AuditAction = "PROFILE_UPDATE"
	AuditProfileDelete  AuditAction = "PROFILE_DELETE"
	AuditAccountLink    AuditAction = "ACCOUNT_LINK"
	AuditAccountUnlink  AuditAction = "ACCOUNT_UNLINK"
	AuditScanTriggered  AuditAction = "SCAN_TRIGGERED"
	AuditScanCompleted  AuditAction = "SCAN_COMPLETED"
	AuditScanCancelled  AuditAction = "SCAN_CANCELLED"
	AuditMarkNotHarmful AuditAction = "MARK_NOT_HARMFUL"
	AuditDataAccessed   AuditAction = "DATA_ACCESSED"
	AuditDataCreated    AuditAction = "DATA_CREATED"
	AuditDataUpdated    AuditAction = "DATA_UPDATED"
	AuditDataDeleted    AuditAction = "DATA_DELETED"
	AuditSystemError    AuditAction = "SYSTEM_ERROR"
)

// ParseAuditAction validates the canonical wire form
func ParseAuditAction(s string) (AuditAction, error) {
	switch AuditAction(s) {
	case AuditUserLogin, AuditUserLogout,
		AuditProfileCreate, AuditProfileUpdate, AuditProfileDelete,
		AuditAccountLink, AuditAccountUnlink,
		AuditScanTriggered, AuditScanCompleted, AuditScanCancelled,
		AuditMarkNotHarmful,
		AuditDataAccessed, AuditDataCreated, AuditDataUpdated, AuditDataDeleted,
		AuditSystemError:
		return AuditAction(s), nil
	}
	return "", fmt.Errorf("unknown audit action %q", s)
}

func (a AuditAction) Valid() bool {
	_, err := ParseAuditAction(string(a))
	return err == nil
}

func (a *AuditAction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAuditAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
