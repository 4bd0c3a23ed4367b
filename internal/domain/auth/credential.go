package auth

import (
	"encoding/json"
	"time"
)

// Claims are what a credential deterministically maps back to.
// ActingAsID and SessionID are set only while impersonating.
type Claims struct {
	TokenID    string    `json:"token_id"`
	SubjectID  string    `json:"subject_id"`
	ActingAsID string    `json:"acting_as_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Impersonating reports whether the claims carry an acting-as principal.
func (c Claims) Impersonating() bool { return c.ActingAsID != "" }

// Credential is an opaque bearer token plus its lifetime.
type Credential struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClaimsFor derives the claims a credential for s must carry.
func ClaimsFor(s AuthState) (Claims, bool) {
	switch s.Status() {
	case StatusImpersonating:
		return Claims{
			SubjectID:  s.User.ID,
			ActingAsID: s.Impersonation.ImpersonatedUser.ID,
			SessionID:  s.Impersonation.SessionID,
		}, true
	case StatusLoggedIn:
		return Claims{SubjectID: s.User.ID}, true
	default:
		return Claims{}, false
	}
}

// AuditAction names an audited impersonation event.
type AuditAction string

const (
	AuditStartImpersonation   AuditAction = "start_impersonation"
	AuditStopImpersonation    AuditAction = "stop_impersonation"
	AuditImpersonationExpired AuditAction = "impersonation_expired"
	AuditImpersonatedAction   AuditAction = "impersonated_action"
)

// AuditEntry is one append-only, session-keyed audit record.
type AuditEntry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Action    AuditAction    `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// MarshalState encodes s in the persisted layout.
func MarshalState(s AuthState) ([]byte, error) {
	return json.Marshal(s.Normalize())
}

// UnmarshalState decodes a persisted blob and normalizes it.
func UnmarshalState(data []byte) (AuthState, error) {
	var s AuthState
	if err := json.Unmarshal(data, &s); err != nil {
		return LoggedOut(), err
	}
	return s.Normalize(), nil
}
