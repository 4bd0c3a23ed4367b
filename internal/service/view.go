package service

import (
	"time"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
)

// View is the caller-facing projection of an AuthState.
type View struct {
	Authenticated bool                    `json:"authenticated"`
	Status        domainauth.Status       `json:"status"`
	User          *domainauth.Identity    `json:"user,omitempty"`
	EffectiveUser *domainauth.Identity    `json:"effective_user,omitempty"`
	Impersonation *ImpersonationView      `json:"impersonation,omitempty"`
	Permissions   []domainauth.Permission `json:"permissions"`
}

// ImpersonationView describes the active impersonation session.
type ImpersonationView struct {
	SessionID        string              `json:"session_id"`
	OriginalUser     domainauth.Identity `json:"original_user"`
	ImpersonatedUser domainauth.Identity `json:"impersonated_user"`
	StartTime        time.Time           `json:"start_time"`
	ExpiresAt        time.Time           `json:"expires_at"`
}

// IsImpersonating reports whether the view carries a session.
func (v View) IsImpersonating() bool { return v.Impersonation != nil }

func (s *AuthService) viewOf(state domainauth.AuthState) View {
	state = state.Normalize()
	v := View{
		Authenticated: state.IsAuthenticated,
		Status:        state.Status(),
		Permissions:   []domainauth.Permission{},
	}
	if principal, ok := state.TruePrincipal(); ok {
		v.User = &principal
	}
	if effective, ok := domainauth.EffectiveUser(state); ok {
		v.EffectiveUser = &effective
		v.Permissions = s.catalog.PermissionsFor(effective.Role)
	}
	if imp := state.Impersonation; imp != nil {
		v.Impersonation = &ImpersonationView{
			SessionID:        imp.SessionID,
			OriginalUser:     imp.OriginalUser,
			ImpersonatedUser: imp.ImpersonatedUser,
			StartTime:        imp.StartTime,
			ExpiresAt:        s.guard.ExpiresAt(*imp),
		}
	}
	return v
}
