package service

import (
	"context"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
)

// RouteDecision is the outcome of a route guard check.
type RouteDecision string

const (
	RouteAllow     RouteDecision = "allow"
	RouteLogin     RouteDecision = "login"
	RouteForbidden RouteDecision = "forbidden"
)

// AuthFacade is the read side handed to UI shells: derived views, change
// subscriptions, and route guard decisions.
type AuthFacade struct {
	auth   *AuthService
	routes []Route
}

// NewAuthFacade wraps auth. A nil route table uses DefaultRoutes.
func NewAuthFacade(auth *AuthService, routes []Route) *AuthFacade {
	if auth == nil {
		panic("auth facade requires an auth service")
	}
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &AuthFacade{auth: auth, routes: routes}
}

// Service returns the wrapped state machine.
func (f *AuthFacade) Service() *AuthService { return f.auth }

// Current runs the impersonation expiry check and returns the resulting view.
func (f *AuthFacade) Current(ctx context.Context) View {
	f.auth.EnforceImpersonationExpiry(ctx)
	return f.auth.View()
}

// Subscribe delivers a View for every committed mutation.
func (f *AuthFacade) Subscribe(fn func(View)) func() {
	if fn == nil {
		return func() {}
	}
	return f.auth.Subscribe(func(st domainauth.AuthState) {
		fn(f.auth.viewOf(st))
	})
}

// Authorize decides whether the current caller may open a page with req.
// Role requirements bind to the true principal.
func (f *AuthFacade) Authorize(ctx context.Context, req RouteRequirement) RouteDecision {
	if req.Public {
		return RouteAllow
	}
	f.auth.EnforceImpersonationExpiry(ctx)
	if !f.auth.IsAuthenticated() {
		return RouteLogin
	}
	if req.RequiredRole != "" && !f.auth.HasRole(req.RequiredRole) {
		return RouteForbidden
	}
	return RouteAllow
}

// Routes returns the page table.
func (f *AuthFacade) Routes() []Route {
	out := make([]Route, len(f.routes))
	copy(out, f.routes)
	return out
}

// AccessibleRoutes returns the pages the current caller may open.
func (f *AuthFacade) AccessibleRoutes(ctx context.Context) []Route {
	out := make([]Route, 0, len(f.routes))
	for _, r := range f.routes {
		if f.Authorize(ctx, r.Requirement()) == RouteAllow {
			out = append(out, r)
		}
	}
	return out
}
