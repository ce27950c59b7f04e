package preferences

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/llmbot-chat/internal/config"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "temperature")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "temperature", "0.3"))
	v, ok, err := s.Get(ctx, "temperature")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.3", v)

	require.NoError(t, s.Delete(ctx, "temperature"))
	_, ok, err = s.Get(ctx, "temperature")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, mustOpen(t, filepath.Join(t.TempDir(), "prefs.yaml")))
}

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")
	ctx := context.Background()

	first := mustOpen(t, path)
	require.NoError(t, first.Set(ctx, "max_token", "2048"))
	require.NoError(t, first.Set(ctx, KeyAuthToken, "token"))
	require.NoError(t, first.Delete(ctx, KeyAuthToken))

	second := mustOpen(t, path)
	v, ok, err := second.Get(ctx, "max_token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2048", v)

	_, ok, _ = second.Get(ctx, KeyAuthToken)
	assert.False(t, ok)
}

func TestOpenFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map\n"), 0o600))

	_, err := OpenFileStore(path)
	assert.Error(t, err)
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, "llmbot:preferences:alice", HashKey("alice"))
	assert.Equal(t, "llmbot:preferences:default", HashKey(""))
}

func mustOpen(t *testing.T, path string) *FileStore {
	t.Helper()
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	return s
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, closeFn, err := Open(ctx, config.PreferencesConfig{Backend: config.PreferencesMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "prefs.yaml")
	s, closeFn, err = Open(ctx, config.PreferencesConfig{Backend: config.PreferencesFile, Path: path}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	assert.NoError(t, closeFn())

	_, closeFn, err = Open(ctx, config.PreferencesConfig{Backend: "etcd"}, nil)
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}
