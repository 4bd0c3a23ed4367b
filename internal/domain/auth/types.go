package auth

// Package auth contains domain-level types for authentication, impersonation and sessions.
// It is pure and free of framework/adapter concerns.

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role represents an application's authorization role.
// The canonical form is upper-case; ParseRole normalizes any other casing.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
)

// ErrUnknownRole is returned when a role string does not name a known role.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole trims and upper-cases s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and normalizes casing.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity is an authenticatable principal issued by the directory.
// Identities are values; callers never mutate a directory entry through them.
type Identity struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// ImpersonationSession records an admin acting as another identity.
type ImpersonationSession struct {
	SessionID        string    `json:"sessionId"`
	OriginalUser     Identity  `json:"originalUser"`
	ImpersonatedUser Identity  `json:"impersonatedUser"`
	StartTime        time.Time `json:"startTime"`
}

// IsExpired reports whether the session has outlived maxDuration at now.
func IsExpired(sess ImpersonationSession, now time.Time, maxDuration time.Duration) bool {
	return now.Sub(sess.StartTime) > maxDuration
}

// Status is the state-machine position derived from an AuthState.
type Status string

const (
	StatusLoggedOut     Status = "logged_out"
	StatusLoggedIn      Status = "logged_in"
	StatusImpersonating Status = "impersonating"
)

// AuthState is the single persisted aggregate.
// The JSON field names are the persisted layout and must stay stable.
type AuthState struct {
	IsAuthenticated bool                  `json:"isAuthenticated"`
	User            *Identity             `json:"user"`
	Impersonation   *ImpersonationSession `json:"impersonation"`
}

// LoggedOut returns the initial state.
func LoggedOut() AuthState { return AuthState{} }

// LoggedInAs returns a freshly authenticated state for id with no impersonation.
func LoggedInAs(id Identity) AuthState {
	u := id
	return AuthState{IsAuthenticated: true, User: &u}
}

// Normalize enforces isAuthenticated=false ⇒ user=nil ⇒ impersonation=nil.
func (s AuthState) Normalize() AuthState {
	if !s.IsAuthenticated || s.User == nil {
		return LoggedOut()
	}
	return s
}

// Status derives the state-machine position.
func (s AuthState) Status() Status {
	switch {
	case !s.IsAuthenticated || s.User == nil:
		return StatusLoggedOut
	case s.Impersonation != nil:
		return StatusImpersonating
	default:
		return StatusLoggedIn
	}
}

// Clone returns a deep copy so snapshots handed out cannot alias live state.
func (s AuthState) Clone() AuthState {
	out := AuthState{IsAuthenticated: s.IsAuthenticated}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	if s.Impersonation != nil {
		imp := *s.Impersonation
		out.Impersonation = &imp
	}
	return out
}

// TruePrincipal returns the originally authenticated identity.
func (s AuthState) TruePrincipal() (Identity, bool) {
	if s.Status() == StatusLoggedOut {
		return Identity{}, false
	}
	return *s.User, true
}

// EffectiveUser derives the acting identity from the snapshot: the impersonated
// identity while impersonating, else the true principal. It does not check expiry.
func EffectiveUser(s AuthState) (Identity, bool) {
	switch s.Status() {
	case StatusImpersonating:
		return s.Impersonation.ImpersonatedUser, true
	case StatusLoggedIn:
		return *s.User, true
	default:
		return Identity{}, false
	}
}

// Validate checks the structural invariants of a (typically restored) state.
func (s AuthState) Validate() error {
	if !s.IsAuthenticated {
		if s.User != nil || s.Impersonation != nil {
			return errors.New("logged-out state carries identity data")
		}
		return nil
	}
	if s.User == nil {
		return errors.New("authenticated state without user")
	}
	if !s.User.Role.Valid() {
		return fmt.Errorf("user %q: %w", s.User.ID, ErrUnknownRole)
	}
	if imp := s.Impersonation; imp != nil {
		if imp.SessionID == "" {
			return errors.New("impersonation without session id")
		}
		if imp.OriginalUser.ID != s.User.ID {
			return errors.New("impersonation original user differs from principal")
		}
		if imp.OriginalUser.Role != RoleAdmin {
			return errors.New("impersonation started by non-admin")
		}
		if imp.ImpersonatedUser.ID == imp.OriginalUser.ID {
			return errors.New("self impersonation")
		}
	}
	return nil
}
