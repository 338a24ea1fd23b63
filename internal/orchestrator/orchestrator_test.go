package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"btdt/internal/localcache"
	"btdt/internal/storage"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func newCache(t *testing.T) Cache {
	t.Helper()
	return NewLocalCache(localcache.New(storage.NewMemoryBackend()))
}

func TestStoreThenRestorePrimaryKey(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello", "dir/b.txt": "world"})

	require.NoError(t, Store(ctx, cache, []string{"k1"}, src))

	dest := t.TempDir()
	result, err := Restore(ctx, cache, []string{"k1"}, dest, false)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, result.ExitCode)
	require.Equal(t, 0, result.KeyIndex)

	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestRestoreFallbackKeyReturnsExit3(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})
	require.NoError(t, Store(ctx, cache, []string{"fallback"}, src))

	dest := t.TempDir()
	result, err := Restore(ctx, cache, []string{"primary", "fallback"}, dest, false)
	require.NoError(t, err)
	require.Equal(t, ExitFallbackSuccess, result.ExitCode)
	require.Equal(t, "fallback", result.MatchedKey)
}

func TestRestoreFallbackKeyCollapsedBySuccessRCOnAnyKey(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})
	require.NoError(t, Store(ctx, cache, []string{"fallback"}, src))

	dest := t.TempDir()
	result, err := Restore(ctx, cache, []string{"primary", "fallback"}, dest, true)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, result.ExitCode)
}

func TestRestoreNoKeyFoundReturnsExit4(t *testing.T) {
	ctx := context.Background()
	cache := newCache(t)

	dest := t.TempDir()
	result, err := Restore(ctx, cache, []string{"missing1", "missing2"}, dest, false)
	require.NoError(t, err)
	require.Equal(t, ExitNoKeyFound, result.ExitCode)
	require.Equal(t, -1, result.KeyIndex)
}

func TestCleanDelegatesToLocalCache(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	c := localcache.New(backend)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})
	require.NoError(t, Store(ctx, NewLocalCache(c), []string{"k1"}, src))

	summary, err := Clean(ctx, c, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, summary.MappingsDeleted)
}
