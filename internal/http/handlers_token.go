package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/target/rolefusion/internal/clock"
	domainauth "github.com/target/rolefusion/internal/domain/auth"
	"github.com/target/rolefusion/internal/ports"
)

// TokenHandlers serves the refresh-endpoint contract: a valid bearer token is
// exchanged for a new one bound to the same subject, acting-as principal and session.
type TokenHandlers struct {
	Issuer ports.CredentialIssuer
	// MaxAge rejects tokens issued longer ago than this. Zero disables the check.
	MaxAge  time.Duration
	Runtime TokenRuntime
}

// TokenRuntime carries the ambient collaborators of TokenHandlers.
type TokenRuntime struct {
	Clock  ports.Clock
	Logger *slog.Logger
}

func (h *TokenHandlers) now() time.Time {
	if h.Runtime.Clock != nil {
		return h.Runtime.Clock.Now()
	}
	return clock.Real{}.Now()
}

func (h *TokenHandlers) logger() *slog.Logger {
	if h.Runtime.Logger != nil {
		return h.Runtime.Logger
	}
	return slog.Default()
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Refresh handles POST /api/token/refresh.
func (h *TokenHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeInvalidToken(w)
		return
	}

	claims, err := h.Issuer.Parse(token)
	if err != nil {
		h.logger().InfoContext(r.Context(), "token refresh rejected", "reason", "invalid_token", "error", err)
		writeInvalidToken(w)
		return
	}

	now := h.now()
	if h.MaxAge > 0 && now.Sub(claims.IssuedAt) > h.MaxAge {
		h.logger().InfoContext(r.Context(), "token refresh rejected", "reason", "too_old", "user_id", claims.SubjectID)
		writeInvalidToken(w)
		return
	}

	cred, err := h.Issuer.Issue(domainauth.Claims{
		SubjectID:  claims.SubjectID,
		ActingAsID: claims.ActingAsID,
		SessionID:  claims.SessionID,
	}, now)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "issue refreshed token failed", "user_id", claims.SubjectID, "error", err)
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tokenResponse{Token: cred.Token, ExpiresAt: cred.ExpiresAt})
}

func writeInvalidToken(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	WriteJSON(w, http.StatusUnauthorized, errorBody{
		Error:   "invalid_token",
		Message: "bearer token is missing, invalid or too old",
	})
}
