package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
	"github.com/target/rolefusion/internal/ports"
	"github.com/target/rolefusion/internal/service"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Facade *service.AuthFacade
	// Tokens serves POST /api/token/refresh. Optional.
	Tokens *TokenHandlers
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	// HealthChecks run on GET /healthz.
	HealthChecks      map[string]HealthCheck
	TrustProxyHeaders bool
	Clock             ports.Clock
	Logger            *slog.Logger
}

// NewRouter creates and configures the HTTP router for the auth shell API.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	health := healthHandler(services.HealthChecks, logger)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	if services.Metrics != nil {
		path := services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, services.Metrics)
	}

	if services.Facade != nil {
		registerAuthRoutes(mux, &AuthHandlers{
			Facade:            services.Facade,
			TrustProxyHeaders: services.TrustProxyHeaders,
			Logger:            logger,
			Clock:             services.Clock,
		})
		events := &EventHandlers{Facade: services.Facade, Logger: logger}
		mux.Handle("GET /auth/events", RequireBearer(services.Facade.Service())(http.HandlerFunc(events.Stream)))
	}
	if services.Tokens != nil {
		mux.HandleFunc("POST /api/token/refresh", services.Tokens.Refresh)
	}

	return mux
}

// registerAuthRoutes mounts the /auth API. Login, status and the route table are
// open; everything else requires the current bearer credential.
func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	gate := h.Facade.Service()
	bearer := RequireBearer(gate)
	requireAuth := RequireAuth(gate)
	requireAdmin := RequireRole(gate, domainauth.RoleAdmin)
	authed := func(fn http.HandlerFunc) http.Handler { return bearer(requireAuth(fn)) }
	admin := func(fn http.HandlerFunc) http.Handler { return bearer(requireAdmin(fn)) }

	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("GET /auth/status", h.Status)
	mux.HandleFunc("GET /auth/routes", h.Routes)
	mux.HandleFunc("GET /auth/routes/{key}", h.RouteDecision)

	mux.Handle("POST /auth/logout", bearer(http.HandlerFunc(h.Logout)))
	mux.Handle("POST /auth/refresh", bearer(http.HandlerFunc(h.Refresh)))
	mux.Handle("GET /auth/permissions", authed(h.Permissions))

	mux.Handle("GET /auth/users", admin(h.Users))
	mux.Handle("POST /auth/impersonation", admin(h.StartImpersonation))
	mux.Handle("DELETE /auth/impersonation", authed(h.StopImpersonation))
	mux.Handle("POST /auth/impersonation/actions", authed(h.RecordAction))
	mux.Handle("GET /auth/impersonation/audit", admin(h.Audit))
}

// Chain applies middleware so the first one listed is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
