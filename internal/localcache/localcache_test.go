package localcache

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"btdt/internal/cacheerr"
	"btdt/internal/storage"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return New(storage.NewMemoryBackend())
}

// newClockedTestCache returns a Cache whose own clock and whose
// backing MemoryBackend's clock are the same fake clock, so Clean's age/size math can be
// exercised deterministically without waiting on the wall clock.
func newClockedTestCache(t *testing.T, clock func() time.Time) *Cache {
	t.Helper()
	backend := storage.NewMemoryBackend()
	backend.Clock = clock
	c := New(backend)
	c.now = clock
	return c
}

func TestSetThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, []string{"k1"}, bytes.NewReader([]byte("hello world"))))

	rc, size, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	defer rc.Close()
	require.EqualValues(t, 11, size)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	_, _, err := c.Get(ctx, "nope")
	require.Error(t, err)
	require.Equal(t, cacheerr.NotFound, cacheerr.KindOf(err))
}

func TestSetMultipleKeysShareOneEntry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, []string{"k1", "k2"}, bytes.NewReader([]byte("shared"))))

	for _, key := range []string{"k1", "k2"} {
		rc, _, err := c.Get(ctx, key)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		require.Equal(t, "shared", string(got))
	}

	cur, err := c.backend.List(ctx, "entries/")
	require.NoError(t, err)
	defer cur.Close()
	var count int
	for cur.Next() {
		count++
	}
	require.Equal(t, 1, count)
}

func TestSetIsolationAcrossKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, []string{"k1"}, bytes.NewReader([]byte("content A"))))
	require.NoError(t, c.Set(ctx, []string{"k2"}, bytes.NewReader([]byte("content B"))))

	rc1, _, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	got1, _ := io.ReadAll(rc1)
	rc1.Close()
	require.Equal(t, "content A", string(got1))

	rc2, _, err := c.Get(ctx, "k2")
	require.NoError(t, err)
	got2, _ := io.ReadAll(rc2)
	rc2.Close()
	require.Equal(t, "content B", string(got2))
}

func TestGetSelfHealsDanglingMapping(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, []string{"k1"}, bytes.NewReader([]byte("data"))))

	cur, err := c.backend.List(ctx, "entries/")
	require.NoError(t, err)
	var entryPaths []string
	for cur.Next() {
		entryPaths = append(entryPaths, cur.Path())
	}
	cur.Close()
	require.Len(t, entryPaths, 1)
	require.NoError(t, c.backend.Remove(ctx, entryPaths[0]))

	_, _, err = c.Get(ctx, "k1")
	require.Error(t, err)
	require.Equal(t, cacheerr.NotFound, cacheerr.KindOf(err))

	ok, err := c.backend.Exists(ctx, keyPath("k1"))
	require.NoError(t, err)
	require.False(t, ok, "dangling mapping should have been removed")
}

func TestCleanByMaxAgeRemovesOnlyOldMappings(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var fakeNow time.Time = at
	clock := func() time.Time { return fakeNow }
	c := newClockedTestCache(t, clock)

	require.NoError(t, c.Set(ctx, []string{"kA"}, bytes.NewReader([]byte("a"))))
	require.NoError(t, c.Set(ctx, []string{"kB"}, bytes.NewReader([]byte("b"))))

	// touch kB at T+6d
	fakeNow = at.Add(6 * 24 * time.Hour)
	_, _, err := c.Get(ctx, "kB")
	require.NoError(t, err)

	// clean at T+8d with max_age=7d
	fakeNow = at.Add(8 * 24 * time.Hour)
	maxAge := 7 * 24 * time.Hour
	_, err = c.Clean(ctx, &maxAge, nil)
	require.NoError(t, err)

	_, _, err = c.Get(ctx, "kA")
	require.Error(t, err)
	require.Equal(t, cacheerr.NotFound, cacheerr.KindOf(err))

	_, _, err = c.Get(ctx, "kB")
	require.NoError(t, err)
}

func TestCleanByMaxSizeEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var fakeNow time.Time = at
	clock := func() time.Time { return fakeNow }
	c := newClockedTestCache(t, clock)

	payload := bytes.Repeat([]byte("z"), 100)
	for i := 0; i < 3; i++ {
		fakeNow = at.Add(time.Duration(i) * time.Hour)
		require.NoError(t, c.Set(ctx, []string{keyFor(i)}, bytes.NewReader(append([]byte{byte(i)}, payload...))))
	}

	fakeNow = at.Add(10 * time.Hour)
	maxSize := int64(2 * 101)
	summary, err := c.Clean(ctx, nil, &maxSize)
	require.NoError(t, err)
	require.Equal(t, 1, summary.EntriesDeleted)

	_, _, err = c.Get(ctx, keyFor(0))
	require.Error(t, err)
	require.Equal(t, cacheerr.NotFound, cacheerr.KindOf(err))

	_, _, err = c.Get(ctx, keyFor(1))
	require.NoError(t, err)
	_, _, err = c.Get(ctx, keyFor(2))
	require.NoError(t, err)
}

func keyFor(i int) string {
	return string(rune('a' + i))
}
