package models

import (
	"time"
)

const (
	SecurityEventHijackAttempt = "token_already_claimed"
	SecurityEventPhoneMismatch = "phone_mismatch"
	SecurityEventPKCEFailure   = "pkce_failed"
	SecurityEventOTPMismatch   = "otp_mismatch"
)

// SecurityEvent is indexed for investigation; token and addresses are masked.
type SecurityEvent struct {
	EventID     string    `json:"event_id"`
	EventBucket int       `json:"event_bucket"`
	EventDate   string    `json:"event_date"`
	EventTime   time.Time `json:"event_time"`
	EventType   string    `json:"event_type"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Token       string    `json:"token"`
	Sender      string    `json:"sender,omitempty"`
	ClaimedBy   string    `json:"claimed_by,omitempty"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	RiskScore   int       `json:"risk_score"`
	Details     string    `json:"details,omitempty"`
}

// Funnel steps recorded as VerificationEvent.EventType.
const (
	VerificationEventInit         = "init"
	VerificationEventClaimed      = "claimed"
	VerificationEventOTPSent      = "otp_sent"
	VerificationEventVerified     = "verified"
	VerificationEventVerifyFailed = "verify_failed"
	VerificationEventLinkOpened   = "link_opened"
)

// VerificationEvent is one row of the verification analytics table.
type VerificationEvent struct {
	EventID   string    `ch:"event_id"`
	EventType string    `ch:"event_type"`
	TenantID  string    `ch:"tenant_id"`
	Token     string    `ch:"token"`
	AppName   string    `ch:"app_name"`
	Outcome   string    `ch:"outcome"`
	CreatedAt time.Time `ch:"created_at"`
}
