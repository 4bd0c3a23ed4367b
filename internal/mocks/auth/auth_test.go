package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/rolefusion/internal/ports"
)

func TestFlakyStorage_Succeeds(t *testing.T) {
	ctx := context.Background()
	s := NewFlakyStorage()

	require.NoError(t, s.SetMany(ctx, map[string]string{"a": "1"}))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ports.ErrKeyNotFound)
	assert.Equal(t, 1, s.SetCalls)
	assert.Equal(t, 1, s.DeleteCalls)
}

func TestFlakyStorage_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	s := NewFlakyStorage()
	s.Put("a", "1")
	s.FailGet, s.FailSet, s.FailDelete = true, true, true

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrInjected)
	assert.ErrorIs(t, s.SetMany(ctx, map[string]string{"a": "2"}), ErrInjected)
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrInjected)

	v, ok := s.Value("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	custom := errors.New("disk full")
	s.Err = custom
	assert.ErrorIs(t, s.SetMany(ctx, nil), custom)
}

func TestStubRefreshClient(t *testing.T) {
	ctx := context.Background()

	s := &StubRefreshClient{Token: "new"}
	tok, err := s.Refresh(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	s.Err = ErrInjected
	_, err = s.Refresh(ctx, "old")
	assert.ErrorIs(t, err, ErrInjected)

	s.RefreshFunc = func(_ context.Context, token string) (string, error) { return token + "-x", nil }
	tok, err = s.Refresh(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "old-x", tok)
	assert.Equal(t, 3, s.Calls())
}
