package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/rolefusion/config"
	"github.com/target/rolefusion/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if err = bootstrap.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	logStartupInfo(ctx, logger, &cfg)

	app, err := bootstrap.Build(ctx, &cfg, logger)
	if err != nil {
		return err
	}

	return bootstrap.RunServicesWithShutdown(ctx, app)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting rolefusion",
		"storage_backend", string(cfg.Storage.Backend),
		"http_addr", cfg.HTTP.Addr,
		"dev", cfg.IsDev,
		"enabled_services", bootstrap.GetEnabledServices(cfg))
}
