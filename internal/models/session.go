package models

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// SessionState is the lifecycle position of a verification session.
type SessionState string

const (
	SessionPending  SessionState = "pending"
	SessionClaimed  SessionState = "claimed"
	SessionVerified SessionState = "verified"
)

// SessionRecordVersion is written on every encode. Version 0 marks records
// produced before the state field existed.
const SessionRecordVersion = 2

var (
	ErrTokenAlreadyClaimed = errors.New("token already claimed by another address")
	ErrPhoneMismatch       = errors.New("sender does not match the bound phone")
	ErrInvalidTransition   = errors.New("invalid session state transition")
	ErrMalformedSession    = errors.New("malformed session record")
)

var transitions = map[SessionState][]SessionState{
	SessionPending: {SessionClaimed, SessionVerified},
	SessionClaimed: {SessionClaimed, SessionVerified},
}

// VerificationSession binds an init call to the end user who answers on the
// messaging channel. Token is the storage key and is not serialized.
type VerificationSession struct {
	Version       int          `json:"version"`
	Token         string       `json:"-"`
	TenantID      string       `json:"tenant_id,omitempty"`
	Phone         string       `json:"phone,omitempty"`
	WaID          string       `json:"wa_id,omitempty"`
	CodeChallenge string       `json:"code_challenge,omitempty"`
	AppName       string       `json:"app_name,omitempty"`
	PackageName   string       `json:"package_name,omitempty"`
	State         SessionState `json:"state"`
	CreatedAt     time.Time    `json:"created_at"`
	ClaimedAt     *time.Time   `json:"claimed_at,omitempty"`
	VerifiedAt    *time.Time   `json:"verified_at,omitempty"`
}

// NewVerificationSession returns a pending session.
func NewVerificationSession(token, tenantID, appName, codeChallenge, packageName, phone string, now time.Time) *VerificationSession {
	return &VerificationSession{
		Version:       SessionRecordVersion,
		Token:         token,
		TenantID:      tenantID,
		Phone:         NormalizeAddress(phone),
		CodeChallenge: codeChallenge,
		AppName:       appName,
		PackageName:   packageName,
		State:         SessionPending,
		CreatedAt:     now.UTC(),
	}
}

// NormalizeAddress strips the channel suffix ("@s.whatsapp.net"), blanks and a leading '+'.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimPrefix(addr, "+")
}

var phoneNumberPattern = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// IsPhoneNumber reports whether addr, once normalized, is an E.164-style number.
func IsPhoneNumber(addr string) bool {
	return phoneNumberPattern.MatchString(NormalizeAddress(addr))
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to SessionState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckClaim runs the hijack check and then the phone-binding check for sender.
func (s *VerificationSession) CheckClaim(sender string) error {
	normalized := NormalizeAddress(sender)
	if normalized == "" {
		return ErrPhoneMismatch
	}
	if s.WaID != "" && NormalizeAddress(s.WaID) != normalized {
		return ErrTokenAlreadyClaimed
	}
	if s.Phone != "" && NormalizeAddress(s.Phone) != normalized {
		return ErrPhoneMismatch
	}
	return nil
}

// Claim binds sender to the session. An unbound phone is bound on first use.
func (s *VerificationSession) Claim(sender string, now time.Time) error {
	if err := s.CheckClaim(sender); err != nil {
		return err
	}
	if !CanTransition(s.State, SessionClaimed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, SessionClaimed)
	}
	if s.Phone == "" {
		s.Phone = NormalizeAddress(sender)
	}
	// the first claimant keeps the binding; retries only re-enter the state
	if s.WaID == "" {
		claimedAt := now.UTC()
		s.ClaimedAt = &claimedAt
		s.WaID = sender
	}
	s.State = SessionClaimed
	return nil
}

// MarkVerified closes the challenge.
func (s *VerificationSession) MarkVerified(now time.Time) error {
	if !CanTransition(s.State, SessionVerified) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, SessionVerified)
	}
	verifiedAt := now.UTC()
	s.VerifiedAt = &verifiedAt
	s.State = SessionVerified
	return nil
}

// EncodeSession serializes the session in the current record version.
func EncodeSession(s *VerificationSession) ([]byte, error) {
	record := *s
	record.Version = SessionRecordVersion
	if record.State == "" {
		record.State = SessionPending
	}
	return json.Marshal(&record)
}

// legacySession is the unversioned record shape. tenant_id used to be numeric.
type legacySession struct {
	TenantID      json.RawMessage `json:"tenant_id"`
	Phone         *string         `json:"phone"`
	WaID          *string         `json:"wa_id"`
	CodeChallenge *string         `json:"code_challenge"`
	AppName       *string         `json:"app_name"`
	PackageName   *string         `json:"package_name"`
	Status        string          `json:"status"`
}

// DecodeSession reads any known record encoding: versioned JSON, unversioned
// JSON, or a bare phone string.
func DecodeSession(token string, raw []byte) (*VerificationSession, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrMalformedSession)
	}

	if trimmed[0] != '{' {
		return &VerificationSession{
			Token: token,
			Phone: NormalizeAddress(string(trimmed)),
			State: SessionPending,
		}, nil
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}

	if probe.Version >= 1 {
		var s VerificationSession
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
		}
		if s.Version > SessionRecordVersion {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedSession, s.Version)
		}
		switch s.State {
		case SessionPending, SessionClaimed, SessionVerified:
		default:
			return nil, fmt.Errorf("%w: unknown state %q", ErrMalformedSession, s.State)
		}
		s.Token = token
		return &s, nil
	}

	var legacy legacySession
	if err := json.Unmarshal(trimmed, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	return legacy.upgrade(token), nil
}

func (l *legacySession) upgrade(token string) *VerificationSession {
	s := &VerificationSession{
		Token:         token,
		TenantID:      rawID(l.TenantID),
		Phone:         NormalizeAddress(deref(l.Phone)),
		WaID:          deref(l.WaID),
		CodeChallenge: deref(l.CodeChallenge),
		AppName:       deref(l.AppName),
		PackageName:   deref(l.PackageName),
		State:         SessionPending,
	}
	switch {
	case SessionState(l.Status) == SessionVerified:
		s.State = SessionVerified
	case s.WaID != "" || SessionState(l.Status) == SessionClaimed:
		s.State = SessionClaimed
	}
	return s
}

func rawID(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		return str
	}
	return string(trimmed)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
