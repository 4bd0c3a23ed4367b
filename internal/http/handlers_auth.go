package httpx

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/target/rolefusion/internal/clock"
	domainauth "github.com/target/rolefusion/internal/domain/auth"
	apperrors "github.com/target/rolefusion/internal/errors"
	"github.com/target/rolefusion/internal/ports"
	"github.com/target/rolefusion/internal/service"
)

// AuthHandlers provides HTTP handlers for the auth state machine.
type AuthHandlers struct {
	Facade *service.AuthFacade
	// TrustProxyHeaders makes the impersonation source address come from forwarding headers.
	TrustProxyHeaders bool
	Logger            *slog.Logger
	// Clock computes Retry-After; defaults to the wall clock.
	Clock ports.Clock
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return clock.Real{}.Now()
}

func (h *AuthHandlers) svc() *service.AuthService { return h.Facade.Service() }

// sessionResponse is a View plus the bearer credential it is bound to.
type sessionResponse struct {
	service.View
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

func (h *AuthHandlers) withCredential(v service.View) sessionResponse {
	resp := sessionResponse{View: v}
	if cred, ok := h.svc().Credential(); ok {
		resp.Token = cred.Token
		exp := cred.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	return resp
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	view, err := h.svc().Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger().InfoContext(r.Context(), "login rejected", "error", err)
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.withCredential(view))
}

// Logout handles POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc().Logout(r.Context()); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc().Refresh(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.withCredential(view))
}

// Status handles GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.Facade.Current(r.Context()))
}

// Permissions handles GET /auth/permissions.
func (h *AuthHandlers) Permissions(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string][]domainauth.Permission{
		"permissions": h.svc().Permissions(),
	})
}

// Routes handles GET /auth/routes: the pages the caller may open.
func (h *AuthHandlers) Routes(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string][]service.Route{
		"routes": h.Facade.AccessibleRoutes(r.Context()),
	})
}

type routeDecisionResponse struct {
	Route    service.Route         `json:"route"`
	Decision service.RouteDecision `json:"decision"`
	Redirect string                `json:"redirect,omitempty"`
}

// RouteDecision handles GET /auth/routes/{key}.
func (h *AuthHandlers) RouteDecision(w http.ResponseWriter, r *http.Request) {
	key := strings.ToUpper(r.PathValue("key"))
	for _, route := range h.Facade.Routes() {
		if route.Key != key {
			continue
		}
		resp := routeDecisionResponse{Route: route, Decision: h.Facade.Authorize(r.Context(), route.Requirement())}
		status := http.StatusOK
		switch resp.Decision {
		case service.RouteLogin:
			resp.Redirect = service.LoginPath
			status = http.StatusUnauthorized
		case service.RouteForbidden:
			status = http.StatusForbidden
		case service.RouteAllow:
		}
		WriteJSON(w, status, resp)
		return
	}
	WriteServiceError(w, apperrors.NotFoundf("route %s not found", key))
}

// Users handles GET /auth/users: impersonation targets.
func (h *AuthHandlers) Users(w http.ResponseWriter, _ *http.Request) {
	targets := h.svc().ListImpersonationTargets()
	if targets == nil {
		targets = []domainauth.Identity{}
	}
	WriteJSON(w, http.StatusOK, map[string][]domainauth.Identity{"users": targets})
}

type startImpersonationRequest struct {
	UserID string `json:"user_id"`
}

// StartImpersonation handles POST /auth/impersonation.
// The source address is the client address, never a body field.
func (h *AuthHandlers) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	var req startImpersonationRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		WriteServiceError(w, apperrors.ValidationField("user_id", "user_id is required"))
		return
	}

	source := ClientAddress(r, h.TrustProxyHeaders)
	view, err := h.svc().StartImpersonation(r.Context(), service.StartImpersonationInput{
		TargetID:      req.UserID,
		SourceAddress: source,
	})

	remaining, retryAt := h.svc().ImpersonationQuota(source)
	if h.svc().IsAuthenticated() {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if err != nil {
		if apperrors.IsRateLimited(err) {
			setRetryAfter(w, retryAt, h.now())
		}
		h.logger().InfoContext(r.Context(), "impersonation start rejected",
			"target_id", req.UserID,
			"source_address", source,
			"reason", rejectionReason(err),
		)
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.withCredential(view))
}

// StopImpersonation handles DELETE /auth/impersonation.
func (h *AuthHandlers) StopImpersonation(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc().StopImpersonation(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.withCredential(view))
}

type recordActionRequest struct {
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
}

// RecordAction handles POST /auth/impersonation/actions.
func (h *AuthHandlers) RecordAction(w http.ResponseWriter, r *http.Request) {
	var req recordActionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	impersonating := h.svc().View().IsImpersonating()
	if err := h.svc().RecordImpersonatedAction(r.Context(), req.Action, req.Details); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"recorded": impersonating})
}

// Audit handles GET /auth/impersonation/audit?session_id=.
func (h *AuthHandlers) Audit(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	entries, err := h.svc().AuditTrail(r.Context(), sessionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domainauth.AuditEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"entries":    entries,
	})
}

func rejectionReason(err error) string {
	if reason := apperrors.GetReason(err); reason != "" {
		return reason
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	return "internal"
}
