package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/target/rolefusion/config"
	httpx "github.com/target/rolefusion/internal/http"
	"github.com/target/rolefusion/internal/ports"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Auth     *AuthComponents
	Backends *Backends
	Clock    ports.Clock
	Logger   *slog.Logger
}

// BuildHTTPServer assembles the router and middleware into an unstarted server.
func BuildHTTPServer(cfg HTTPServerConfig) (*http.Server, error) {
	if cfg.Config == nil || cfg.Auth == nil {
		return nil, errors.New("http server requires config and auth components")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config

	services := httpx.RouterServices{
		Facade: cfg.Auth.Facade,
		Tokens: &httpx.TokenHandlers{
			Issuer:  cfg.Auth.Issuer,
			MaxAge:  appCfg.Auth.Refresh.MaxAge,
			Runtime: httpx.TokenRuntime{Clock: cfg.Clock, Logger: logger},
		},
		HealthChecks:      cfg.Backends.HealthChecks(),
		TrustProxyHeaders: appCfg.HTTP.TrustProxyHeaders,
		Clock:             cfg.Clock,
		Logger:            logger,
	}
	if cfg.Auth.Prometheus != nil {
		services.Metrics = cfg.Auth.Prometheus.Handler()
		services.MetricsPath = appCfg.Observability.Metrics.Path
	}

	// Order: Recover -> Logging -> Router
	handler := httpx.Chain(httpx.NewRouter(services), httpx.Recover(logger), httpx.Logging(logger))

	addr := appCfg.HTTP.Addr
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: appCfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       appCfg.HTTP.IdleTimeout,
	}, nil
}

// ServeHTTP runs server until ctx is canceled, then shuts it down within
// cfg.ShutdownTimeout. Request contexts derive from ctx so open event streams end
// on shutdown.
func ServeHTTP(ctx context.Context, server *http.Server, cfg config.HTTPConfig, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	}
	server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
