package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/target/rolefusion/config"
	"github.com/target/rolefusion/internal/adapters/auditlog"
	"github.com/target/rolefusion/internal/adapters/directory"
	"github.com/target/rolefusion/internal/adapters/jwtcred"
	"github.com/target/rolefusion/internal/adapters/postgres"
	"github.com/target/rolefusion/internal/adapters/refreshclient"
	"github.com/target/rolefusion/internal/observability/metrics"
	"github.com/target/rolefusion/internal/ports"
	"github.com/target/rolefusion/internal/service"
)

// AuthComponents is the wired auth stack.
type AuthComponents struct {
	Service *service.AuthService
	Facade  *service.AuthFacade
	Issuer  *jwtcred.Issuer
	// Directory is the identity source the service authenticates against.
	Directory ports.Directory
	// Prometheus is nil when metrics are disabled.
	Prometheus *metrics.PrometheusSink
	Audit      ports.AuditSink
}

// AuthDeps groups the inputs to BuildAuth.
type AuthDeps struct {
	Config   *config.AppConfig
	Storage  ports.Storage
	Backends *Backends
	Clock    ports.Clock
	Logger   *slog.Logger
}

// BuildAuth wires the directory, credential issuer, impersonation guard and auth
// service, then restores persisted state.
func BuildAuth(ctx context.Context, deps AuthDeps) (*AuthComponents, error) {
	if deps.Config == nil || deps.Storage == nil {
		return nil, errors.New("auth wiring requires config and storage")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	dir, err := buildDirectory(cfg.Auth.Directory)
	if err != nil {
		return nil, err
	}

	secret, err := signingSecret(cfg, logger)
	if err != nil {
		return nil, err
	}
	issuer, err := jwtcred.New(jwtcred.Options{
		Secret: secret,
		Issuer: cfg.Auth.TokenIssuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("build credential issuer: %w", err)
	}

	refresher, err := buildRefresher(cfg.Auth.Refresh)
	if err != nil {
		return nil, err
	}

	out := &AuthComponents{Issuer: issuer, Directory: dir, Audit: buildAuditSink(cfg, deps.Backends)}

	var sink metrics.Sink = metrics.NopSink{}
	if cfg.Observability.Metrics.IsEnabled() {
		out.Prometheus = metrics.NewPrometheusSink()
		sink = out.Prometheus
	}
	rt := service.Runtime{Clock: deps.Clock, Logger: logger, Metrics: sink}

	guard := service.NewImpersonationGuard(service.ImpersonationGuardOptions{
		Policy: service.ImpersonationPolicy{
			MaxDuration: cfg.Impersonation.MaxDuration,
			RateLimit:   cfg.Impersonation.RateLimit,
			RateWindow:  cfg.Impersonation.RateWindow,
		},
		Audit:   out.Audit,
		Runtime: rt,
	})

	svcDeps := service.AuthDeps{
		Directory: dir,
		Issuer:    issuer,
		Storage:   deps.Storage,
		Guard:     guard,
	}
	if refresher != nil {
		svcDeps.Refresher = refresher
	}
	out.Service = service.NewAuthService(service.AuthServiceOptions{
		Deps:    svcDeps,
		Policy:  service.AuthPolicy{RefreshMaxAge: cfg.Auth.Refresh.MaxAge},
		Runtime: rt,
	})
	out.Facade = service.NewAuthFacade(out.Service, service.DefaultRoutes())

	if err := out.Service.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore auth state: %w", err)
	}
	return out, nil
}

func buildDirectory(cfg config.DirectoryConfig) (*directory.Directory, error) {
	opts := directory.Options{HashCost: cfg.PasswordHashCost}
	if cfg.SeedFile == "" {
		dir, err := directory.NewDemo(opts)
		if err != nil {
			return nil, fmt.Errorf("build demo directory: %w", err)
		}
		return dir, nil
	}
	dir, err := directory.Load(cfg.SeedFile, opts)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	return dir, nil
}

// signingSecret returns the configured secret, or a per-process random one in dev.
func signingSecret(cfg *config.AppConfig, logger *slog.Logger) ([]byte, error) {
	if cfg.Auth.HasTokenSecret() {
		return []byte(strings.TrimSpace(cfg.Auth.TokenSecret)), nil
	}
	if !cfg.IsDev {
		return nil, errors.New("TOKEN_SECRET is required outside dev mode")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	logger.Warn("TOKEN_SECRET not set; using a random secret, tokens will not survive a restart")
	return []byte(hex.EncodeToString(buf)), nil
}

func buildRefresher(cfg config.RefreshConfig) (*refreshclient.Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil //nolint:nilnil // no endpoint means local re-minting
	}
	client, err := refreshclient.New(refreshclient.Options{
		Endpoint:  cfg.Endpoint,
		TokenPath: cfg.TokenPath,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build refresh client: %w", err)
	}
	return client, nil
}

//nolint:ireturn // either audit backend satisfies the port.
func buildAuditSink(cfg *config.AppConfig, backends *Backends) ports.AuditSink {
	if cfg.Storage.Backend == config.StorageBackendPostgres && backends != nil && backends.DB != nil {
		return postgres.NewAuditStore(backends.DB)
	}
	return auditlog.New(cfg.Impersonation.AuditMaxEntries)
}
