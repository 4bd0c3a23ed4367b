package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
)

// ErrKeyNotFound is returned by Storage.Get when the key holds no value.
var ErrKeyNotFound = errors.New("storage key not found")

// Storage is the durable key-value store that holds the auth blob and the bearer token.
// SetMany must replace every given key in one atomic write so readers never observe
// a partial update; Delete removes every given key in one call.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// Directory is the fixed catalog of identities that may log in.
type Directory interface {
	FindByEmail(email string) (domainauth.Identity, bool)
	FindByID(id string) (domainauth.Identity, bool)
	ListAll() []domainauth.Identity
	// VerifyPassword reports whether password matches the stored mock credential of id.
	// Passing an unknown identity still costs one hash comparison.
	VerifyPassword(id domainauth.Identity, password string) bool
}

// CredentialIssuer mints and decodes bearer tokens.
type CredentialIssuer interface {
	Issue(claims domainauth.Claims, now time.Time) (domainauth.Credential, error)
	// Parse verifies the token signature and returns its claims. Expired tokens
	// still decode; callers decide whether expiry matters.
	Parse(token string) (domainauth.Claims, error)
}

// RefreshClient exchanges a bearer token for a new one against a remote endpoint.
type RefreshClient interface {
	Refresh(ctx context.Context, token string) (string, error)
}

// AuditSink stores session-keyed impersonation audit entries.
type AuditSink interface {
	Append(ctx context.Context, entry domainauth.AuditEntry) error
	Entries(ctx context.Context, sessionID string) ([]domainauth.AuditEntry, error)
}

// Clock provides the current time and can be faked in tests.
type Clock interface {
	Now() time.Time
}
