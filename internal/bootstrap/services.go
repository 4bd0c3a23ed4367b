package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/target/rolefusion/config"
	"github.com/target/rolefusion/internal/clock"
	"github.com/target/rolefusion/internal/service"
)

// App is the assembled process: backends, auth stack and enabled services.
type App struct {
	Config   *config.AppConfig
	Backends *Backends
	Auth     *AuthComponents
	Logger   *slog.Logger
}

// Build opens backends and wires the auth stack for cfg.
func Build(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ValidateServiceConfig(cfg); err != nil {
		return nil, err
	}

	backends, err := OpenBackends(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage backends: %w", err)
	}
	storage, err := BuildStorage(cfg.Storage, backends, logger)
	if err != nil {
		return nil, errors.Join(err, backends.Close())
	}
	auth, err := BuildAuth(ctx, AuthDeps{
		Config:   cfg,
		Storage:  storage,
		Backends: backends,
		Clock:    clock.Real{},
		Logger:   logger,
	})
	if err != nil {
		return nil, errors.Join(err, backends.Close())
	}

	logger.InfoContext(ctx, "auth stack ready",
		"storage", string(cfg.Storage.Backend),
		"status", string(auth.Service.Snapshot().Status()),
		"services", GetEnabledServices(cfg),
	)
	return &App{Config: cfg, Backends: backends, Auth: auth, Logger: logger}, nil
}

// Run starts every enabled service and blocks until ctx is canceled or one fails.
func (a *App) Run(ctx context.Context) error {
	services, err := a.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("resolve services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.Config.IsHTTPServerEnabled() {
		server, buildErr := BuildHTTPServer(HTTPServerConfig{
			Config:   a.Config,
			Auth:     a.Auth,
			Backends: a.Backends,
			Clock:    clock.Real{},
			Logger:   a.Logger,
		})
		if buildErr != nil {
			return buildErr
		}
		g.Go(func() error { return ServeHTTP(gctx, server, a.Config.HTTP, a.Logger) })
	}

	if a.Config.IsExpirySweeperEnabled() {
		sweeper, sweepErr := service.NewExpirySweeper(service.ExpirySweeperOptions{
			Auth:     a.Auth.Service,
			Schedule: a.Config.Impersonation.SweepSchedule,
			Logger:   a.Logger,
		})
		if sweepErr != nil {
			return fmt.Errorf("build expiry sweeper: %w", sweepErr)
		}
		a.Logger.InfoContext(ctx, "starting expiry sweeper", "schedule", sweeper.Schedule())
		g.Go(func() error { return sweeper.Run(gctx) })
	} else if services[config.ServiceModeExpirySweeper] {
		a.Logger.WarnContext(ctx, "expiry sweeper enabled without a schedule; skipping")
	}

	return g.Wait()
}

// Close releases backend connections.
func (a *App) Close() error {
	return a.Backends.Close()
}

// RunServicesWithShutdown runs the app until SIGINT or SIGTERM.
func RunServicesWithShutdown(ctx context.Context, app *App) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.Run(ctx)
	app.Logger.Info("shutdown complete")
	if closeErr := app.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}
