package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
)

// AuthGate is what the guard middleware consults about the current caller.
type AuthGate interface {
	IsAuthenticated() bool
	HasRole(role domainauth.Role) bool
	HasPermission(perm domainauth.Permission) bool
	EnforceImpersonationExpiry(ctx context.Context) bool
}

// CredentialSource exposes the bearer credential the current session is bound to.
type CredentialSource interface {
	Credential() (domainauth.Credential, bool)
	EnforceImpersonationExpiry(ctx context.Context) bool
}

// CredentialHeader carries the replacement credential when a request ends an
// overdue impersonation session.
const CredentialHeader = "X-Auth-Token"

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *respWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *respWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher so event streams work through the logger.
func (w *respWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *respWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler { //nolint:errorlint // sentinel is compared by identity by net/http
						panic(err)
					}
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					WriteError(w, ErrorParams{
						Code:    http.StatusInternalServerError,
						ErrCode: "internal_error",
						Err:     errors.New("internal server error"),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthRequired(w http.ResponseWriter) {
	WriteError(w, ErrorParams{
		Code:    http.StatusUnauthorized,
		ErrCode: "authentication_required",
		Err:     errors.New("authentication required"),
	})
}

func writeForbidden(w http.ResponseWriter) {
	WriteError(w, ErrorParams{
		Code:    http.StatusForbidden,
		ErrCode: "insufficient_permissions",
		Err:     errors.New("insufficient permissions"),
	})
}

// RequireAuth returns a middleware that requires an authenticated caller.
// The impersonation expiry check runs first so an overdue session never
// reaches the handler.
func RequireAuth(gate AuthGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gate.EnforceImpersonationExpiry(r.Context())
			if !gate.IsAuthenticated() {
				writeAuthRequired(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole returns a middleware that requires the true principal to hold role.
// An admin impersonating a user still passes an ADMIN check.
func RequireRole(gate AuthGate, role domainauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gate.EnforceImpersonationExpiry(r.Context())
			if !gate.IsAuthenticated() {
				writeAuthRequired(w)
				return
			}
			if !gate.HasRole(role) {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission returns a middleware that requires the effective user to hold perm.
func RequirePermission(gate AuthGate, perm domainauth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gate.EnforceImpersonationExpiry(r.Context())
			if !gate.IsAuthenticated() {
				writeAuthRequired(w)
				return
			}
			if !gate.HasPermission(perm) {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBearer returns a middleware that admits only callers presenting the
// session's current bearer credential. The credential is compared before the
// impersonation expiry check; when that check ends the session, the re-minted
// admin credential is returned in CredentialHeader.
func RequireBearer(src CredentialSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !presentsCredential(r, src) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="rolefusion"`)
				writeAuthRequired(w)
				return
			}
			if src.EnforceImpersonationExpiry(r.Context()) {
				if cred, ok := src.Credential(); ok {
					w.Header().Set(CredentialHeader, cred.Token)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentsCredential(r *http.Request, src CredentialSource) bool {
	presented, ok := bearerToken(r)
	if !ok {
		return false
	}
	cred, ok := src.Credential()
	if !ok || cred.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(cred.Token)) == 1
}
