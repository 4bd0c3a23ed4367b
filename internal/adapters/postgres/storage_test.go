package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/rolefusion/internal/domain/auth"
	"github.com/target/rolefusion/internal/ports"
	"github.com/target/rolefusion/internal/testutil"
)

func TestStorage_RoundTrip(t *testing.T) {
	db := testutil.SetupAutoDB(t)
	store := NewStorage(db, StorageOptions{Prefix: "it:" + uuid.NewString() + ":"})
	ctx := context.Background()

	_, err := store.Get(ctx, "rolefusion.auth")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)

	require.NoError(t, store.SetMany(ctx, map[string]string{
		"rolefusion.auth":  `{"isAuthenticated":true}`,
		"rolefusion.token": "tok-1",
	}))
	require.NoError(t, store.SetMany(ctx, map[string]string{"rolefusion.token": "tok-2"}))

	v, err := store.Get(ctx, "rolefusion.token")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", v)

	require.NoError(t, store.Delete(ctx, "rolefusion.auth", "rolefusion.token"))
	_, err = store.Get(ctx, "rolefusion.token")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
}

func TestAuditStore_EntriesBySession(t *testing.T) {
	db := testutil.SetupAutoDB(t)
	audit := NewAuditStore(db)
	ctx := context.Background()

	sessA, sessB := uuid.NewString(), uuid.NewString()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, audit.Append(ctx, domainauth.AuditEntry{
		SessionID: sessA, Action: domainauth.AuditStartImpersonation, Timestamp: start,
		Details: map[string]any{"target_user_id": "user-3"},
	}))
	require.NoError(t, audit.Append(ctx, domainauth.AuditEntry{
		SessionID: sessB, Action: domainauth.AuditStartImpersonation, Timestamp: start,
	}))
	require.NoError(t, audit.Append(ctx, domainauth.AuditEntry{
		SessionID: sessA, Action: domainauth.AuditStopImpersonation, Timestamp: start.Add(time.Minute),
	}))

	entries, err := audit.Entries(ctx, sessA)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domainauth.AuditStartImpersonation, entries[0].Action)
	assert.Equal(t, "user-3", entries[0].Details["target_user_id"])
	assert.Equal(t, domainauth.AuditStopImpersonation, entries[1].Action)
}

func TestAuditStore_RejectsMissingSession(t *testing.T) {
	audit := NewAuditStore(nil)
	require.Error(t, audit.Append(context.Background(), domainauth.AuditEntry{}))
}
