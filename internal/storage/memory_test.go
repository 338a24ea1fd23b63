package storage

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"btdt/internal/cacheerr"
)

func TestMemoryBackendWriteAllThenRead(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	require.NoError(t, b.WriteAll(ctx, "/entries/key", []byte("hello")))

	rc, size, err := b.OpenRead(ctx, "entries/key")
	require.NoError(t, err)
	defer rc.Close()
	require.EqualValues(t, 5, size)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestMemoryBackendOpenWriteCommitAndDiscard(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	sink, err := b.OpenWrite(ctx, "staged")
	require.NoError(t, err)
	_, err = sink.Write([]byte("committed"))
	require.NoError(t, err)
	require.NoError(t, sink.Commit())

	ok, err := b.Exists(ctx, "staged")
	require.NoError(t, err)
	require.True(t, ok)

	sink2, err := b.OpenWrite(ctx, "abandoned")
	require.NoError(t, err)
	_, err = sink2.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, sink2.Discard())

	ok, err = b.Exists(ctx, "abandoned")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryBackendRemoveMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	err := b.Remove(ctx, "missing")
	require.Error(t, err)
	require.Equal(t, cacheerr.NotFound, cacheerr.KindOf(err))
}

func TestMemoryBackendReadSurvivesConcurrentRemove(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.NoError(t, b.WriteAll(ctx, "key", []byte("stable content")))

	rc, _, err := b.OpenRead(ctx, "key")
	require.NoError(t, err)

	require.NoError(t, b.Remove(ctx, "key"))

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "stable content", string(got))
	rc.Close()

	ok, err := b.Exists(ctx, "key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryBackendTouchUpdatesLastAccess(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.NoError(t, b.WriteAll(ctx, "key", []byte("v")))

	before, err := b.Stat(ctx, "key")
	require.NoError(t, err)

	require.NoError(t, b.Touch(ctx, "key"))

	after, err := b.Stat(ctx, "key")
	require.NoError(t, err)
	require.False(t, after.LastAccess.Before(before.LastAccess))
}

func TestMemoryBackendListReturnsSortedPrefixMatches(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	require.NoError(t, b.WriteAll(ctx, "entries/b", []byte("1")))
	require.NoError(t, b.WriteAll(ctx, "entries/a", []byte("1")))
	require.NoError(t, b.WriteAll(ctx, "other/c", []byte("1")))

	cur, err := b.List(ctx, "entries")
	require.NoError(t, err)
	defer cur.Close()

	var paths []string
	for cur.Next() {
		paths = append(paths, cur.Path())
	}
	require.NoError(t, cur.Err())
	require.Equal(t, []string{"entries/a", "entries/b"}, paths)
}

func TestMemoryBackendConcurrentWritesDoNotRace(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.WriteAll(ctx, "key", []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	ok, err := b.Exists(ctx, "key")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryBackendOverwriteDefensiveCopy(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	data := []byte("original")
	require.NoError(t, b.WriteAll(ctx, "key", data))
	data[0] = 'X'

	rc, _, err := b.OpenRead(ctx, "key")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "original", string(got))
}
