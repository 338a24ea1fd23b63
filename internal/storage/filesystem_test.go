package storage

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"btdt/internal/cacheerr"
)

func newFSBackend(t *testing.T) *FilesystemBackend {
	t.Helper()
	b, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestFilesystemBackendWriteAllThenRead(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	require.NoError(t, b.WriteAll(ctx, "objects/ab/cd.blob", []byte("payload")))

	ok, err := b.Exists(ctx, "objects/ab/cd.blob")
	require.NoError(t, err)
	require.True(t, ok)

	rc, size, err := b.OpenRead(ctx, "objects/ab/cd.blob")
	require.NoError(t, err)
	defer rc.Close()
	require.EqualValues(t, 7, size)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestFilesystemBackendOpenWriteCommit(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	sink, err := b.OpenWrite(ctx, "entries/key1")
	require.NoError(t, err)
	_, err = sink.Write([]byte("streamed content"))
	require.NoError(t, err)
	require.NoError(t, sink.Commit())

	rc, _, err := b.OpenRead(ctx, "entries/key1")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "streamed content", string(got))
}

func TestFilesystemBackendDiscardLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	sink, err := b.OpenWrite(ctx, "entries/abandoned")
	require.NoError(t, err)
	_, err = sink.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, sink.Discard())

	ok, err := b.Exists(ctx, "entries/abandoned")
	require.NoError(t, err)
	require.False(t, ok)

	matches, _ := filepath.Glob(filepath.Join(b.root, "tmp", "*"))
	require.Empty(t, matches)
}

func TestFilesystemBackendRemoveMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	err := b.Remove(ctx, "missing")
	require.Error(t, err)
	require.Equal(t, cacheerr.NotFound, cacheerr.KindOf(err))
}

func TestFilesystemBackendTouchUpdatesStat(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)
	require.NoError(t, b.WriteAll(ctx, "key", []byte("v")))

	before, err := b.Stat(ctx, "key")
	require.NoError(t, err)

	require.NoError(t, b.Touch(ctx, "key"))

	after, err := b.Stat(ctx, "key")
	require.NoError(t, err)
	require.False(t, after.LastAccess.Before(before.LastAccess))
}

func TestFilesystemBackendOpenReadRefreshesAccessTime(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)
	require.NoError(t, b.WriteAll(ctx, "key", []byte("v")))

	before, err := b.Stat(ctx, "key")
	require.NoError(t, err)

	rc, _, err := b.OpenRead(ctx, "key")
	require.NoError(t, err)
	rc.Close()

	after, err := b.Stat(ctx, "key")
	require.NoError(t, err)
	require.False(t, after.LastAccess.Before(before.LastAccess))
}

func TestFilesystemBackendListReturnsSortedPrefixMatches(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

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

func TestFilesystemBackendCleansDotDotWithinRoot(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	// filepath.Clean("/"+path) collapses leading ".." segments before
	// the path ever leaves "/", so these resolve harmlessly inside the
	// backend root rather than escaping it.
	ok, err := b.Exists(ctx, "../../etc/passwd")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.WriteAll(ctx, "a/../b", []byte("x")))
	ok, err = b.Exists(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFilesystemBackendRejectsEmptyPath(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	sink, err := b.OpenWrite(ctx, "")
	require.Error(t, err)
	require.Equal(t, cacheerr.InvalidInput, cacheerr.KindOf(err))
	require.Nil(t, sink)
}

func TestFilesystemBackendOverwriteReplacesContent(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	require.NoError(t, b.WriteAll(ctx, "key", []byte("first")))
	require.NoError(t, b.WriteAll(ctx, "key", []byte("second, longer")))

	rc, _, err := b.OpenRead(ctx, "key")
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = io.Copy(&buf, rc)
	require.NoError(t, err)
	require.Equal(t, "second, longer", buf.String())
}
