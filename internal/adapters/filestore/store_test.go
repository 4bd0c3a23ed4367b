package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/rolefusion/internal/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state", "auth.json"))
	require.NoError(t, err)
	return s
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestStore_GetBeforeWrite(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "rolefusion.token")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))

	reopened, err := New(s.Path())
	require.NoError(t, err)
	v, err := reopened.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Get(ctx, "a")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
	v, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestStore_CorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o700))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	_, err := s.Get(context.Background(), "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrKeyNotFound)
}

func TestStore_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.SetMany(ctx, map[string]string{"a": "1"}), context.Canceled)
}
