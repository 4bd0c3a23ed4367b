package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	domainauth "github.com/target/rolefusion/internal/domain/auth"
	apperrors "github.com/target/rolefusion/internal/errors"
)

// AuditStore implements ports.AuditSink on the impersonation_audit table.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (a *AuditStore) Append(ctx context.Context, entry domainauth.AuditEntry) error {
	if entry.SessionID == "" {
		return errors.New("audit entry without session id")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO impersonation_audit (id, session_id, action, occurred_at, details)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.SessionID, string(entry.Action), entry.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", apperrors.MapDBError(err))
	}
	return nil
}

// Entries returns the session's entries oldest first.
func (a *AuditStore) Entries(ctx context.Context, sessionID string) ([]domainauth.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, session_id, action, occurred_at, details
		FROM impersonation_audit
		WHERE session_id = $1
		ORDER BY occurred_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []domainauth.AuditEntry
	for rows.Next() {
		var (
			e      domainauth.AuditEntry
			action string
			raw    []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &action, &e.Timestamp, &raw); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domainauth.AuditAction(action)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", apperrors.MapDBError(err))
	}
	return out, nil
}
