package postgres

// Package postgres provides PostgreSQL-backed auth storage and audit adapters.
// Both expect the schema applied by internal/migrate.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/target/rolefusion/internal/errors"
	"github.com/target/rolefusion/internal/ports"
)

// Storage implements ports.Storage on the auth_storage table.
type Storage struct {
	db     *sql.DB
	prefix string
	logger *slog.Logger
}

// StorageOptions configures a Storage.
type StorageOptions struct {
	Prefix string
	Logger *slog.Logger
}

// NewStorage creates a Storage using db, which must be opened with the pgx driver.
func NewStorage(db *sql.DB, opts StorageOptions) *Storage {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{db: db, prefix: opts.Prefix, logger: logger.With("component", "postgres_storage")}
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM auth_storage WHERE key = $1`, s.prefix+key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ports.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select auth storage key: %w", apperrors.MapDBError(err))
	}
	return value, nil
}

// SetMany upserts every value in a single transaction.
func (s *Storage) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO auth_storage (key, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, q, s.prefix+k, v); err != nil {
				return fmt.Errorf("upsert auth storage key: %w", apperrors.MapDBError(err))
			}
		}
		return nil
	})
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM auth_storage WHERE key = $1`, s.prefix+k); err != nil {
				return fmt.Errorf("delete auth storage key: %w", apperrors.MapDBError(err))
			}
		}
		return nil
	})
}

func (s *Storage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", apperrors.MapDBError(err))
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", apperrors.MapDBError(err))
	}
	return nil
}
