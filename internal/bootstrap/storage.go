package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/rolefusion/config"
	"github.com/target/rolefusion/internal/adapters/filestore"
	"github.com/target/rolefusion/internal/adapters/memstore"
	"github.com/target/rolefusion/internal/adapters/postgres"
	redisstore "github.com/target/rolefusion/internal/adapters/redis"
	"github.com/target/rolefusion/internal/adapters/sealed"
	httpx "github.com/target/rolefusion/internal/http"
	"github.com/target/rolefusion/internal/ports"
)

// Backends holds the external connections opened for the configured storage.
type Backends struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// Close releases any open connections.
func (b *Backends) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// OpenBackends connects to whichever of Postgres and Redis the storage config needs
// and applies migrations when Postgres is used.
func OpenBackends(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}
	dbCfg := DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: logger}

	if cfg.NeedsPostgres() {
		db, err := ConnectDB(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		b.DB = db
		if err := RunMigrations(ctx, db, logger); err != nil {
			return nil, errors.Join(err, b.Close())
		}
	}

	if cfg.NeedsRedis() {
		client, err := ConnectRedis(ctx, dbCfg)
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.Redis = client
	}

	return b, nil
}

// BuildStorage selects the ports.Storage implementation for the configured backend
// and seals it when an encryption key is set.
//
//nolint:ireturn // callers only depend on the port.
func BuildStorage(cfg config.StorageConfig, backends *Backends, logger *slog.Logger) (ports.Storage, error) {
	store, err := buildBackendStorage(cfg, backends, logger)
	if err != nil || !cfg.IsEncrypted() {
		return store, err
	}
	key, err := sealed.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("parse STORAGE_ENCRYPTION_KEY: %w", err)
	}
	c, err := sealed.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return sealed.NewStorage(store, c, logger), nil
}

//nolint:ireturn // callers only depend on the port.
func buildBackendStorage(cfg config.StorageConfig, backends *Backends, logger *slog.Logger) (ports.Storage, error) {
	switch cfg.Backend {
	case config.StorageBackendMemory, "":
		return memstore.New(), nil
	case config.StorageBackendFile:
		store, err := filestore.New(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("open file storage: %w", err)
		}
		return store, nil
	case config.StorageBackendRedis:
		if backends == nil || backends.Redis == nil {
			return nil, errors.New("redis storage requires a redis connection")
		}
		return redisstore.NewStorage(backends.Redis, redisstore.StorageOptions{
			Prefix: cfg.KeyPrefix,
			TTL:    cfg.TTL,
		}), nil
	case config.StorageBackendPostgres:
		if backends == nil || backends.DB == nil {
			return nil, errors.New("postgres storage requires a database connection")
		}
		return postgres.NewStorage(backends.DB, postgres.StorageOptions{
			Prefix: cfg.KeyPrefix,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// HealthChecks returns a ping per open backend.
func (b *Backends) HealthChecks() map[string]httpx.HealthCheck {
	checks := map[string]httpx.HealthCheck{}
	if b == nil {
		return checks
	}
	if b.DB != nil {
		checks["postgres"] = b.DB.PingContext
	}
	if b.Redis != nil {
		client := b.Redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}
