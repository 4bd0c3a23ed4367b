package errors

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps database errors raised by the storage backend to AppError instances.
// It handles:
// - Context timeouts/cancellations → Timeout/Canceled
// - pgx.ErrNoRows → NotFound
// - Missing schema → Persistence (migrations not applied)
// - Connection and transaction-rollback classes → Persistence
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "storage request timed out",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "storage request was canceled",
			Cause:   err,
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "storage key not found",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch {
	case pgErr.Code == pgerrcode.UndefinedTable:
		return &AppError{
			Code:    ErrCodePersistence,
			Message: "auth storage table is missing; run migrations",
			Cause:   pgErr,
		}
	case pgerrcode.IsConnectionException(pgErr.Code):
		return &AppError{
			Code:    ErrCodePersistence,
			Message: "storage database is unavailable",
			Cause:   pgErr,
		}
	case pgerrcode.IsTransactionRollback(pgErr.Code):
		return &AppError{
			Code:    ErrCodePersistence,
			Message: "storage write was rolled back",
			Cause:   pgErr,
		}
	default:
		return &AppError{
			Code:    ErrCodePersistence,
			Message: "a storage database error occurred",
			Cause:   pgErr,
		}
	}
}

// IsRetryable reports whether a mapped storage error is worth retrying once.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsTransactionRollback(pgErr.Code) || pgerrcode.IsConnectionException(pgErr.Code)
	}
	return IsTimeout(err)
}
