package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"btdt/internal/cacheerr"
)

// MemoryBackend is an in-process, in-memory realization of Backend
// (each NewMemoryBackend has its own map),
// for tests and for the server's `InMemory` cache configuration; it is
// explicitly not performance-optimized. A read-write mutex guards the
// map; OpenRead hands back a reader over a snapshot byte slice so a
// concurrent Remove can never corrupt or truncate an in-flight read.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*memEntry

	// Clock is used wherever this backend would otherwise call
	// time.Now(), so tests (e.g. internal/localcache's eviction
	// tests) can drive last-access timestamps without waiting on the
	// wall clock. Defaults to time.Now.
	Clock func() time.Time
}

type memEntry struct {
	data       []byte
	lastAccess time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*memEntry), Clock: time.Now}
}

func (b *MemoryBackend) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}

func normPath(path string) string {
	return strings.TrimPrefix(strings.TrimSuffix(path, "/"), "/")
}

func (b *MemoryBackend) Exists(_ context.Context, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[normPath(path)]
	return ok, nil
}

func (b *MemoryBackend) OpenRead(_ context.Context, path string) (io.ReadCloser, int64, error) {
	p := normPath(path)
	b.mu.Lock()
	e, ok := b.entries[p]
	if !ok {
		b.mu.Unlock()
		return nil, 0, cacheerr.WithPath(cacheerr.NotFound, "open", path, nil)
	}
	e.lastAccess = b.now()
	data := e.data // slices are value types over a shared, never-mutated backing array
	b.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type memSink struct {
	b        *MemoryBackend
	path     string
	buf      bytes.Buffer
	finished bool
}

func (s *memSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *memSink) Commit() error {
	if s.finished {
		return nil
	}
	s.finished = true
	s.b.mu.Lock()
	s.b.entries[s.path] = &memEntry{data: s.buf.Bytes(), lastAccess: s.b.now()}
	s.b.mu.Unlock()
	return nil
}

func (s *memSink) Discard() error {
	s.finished = true
	return nil
}

func (b *MemoryBackend) OpenWrite(_ context.Context, path string) (Sink, error) {
	return &memSink{b: b, path: normPath(path)}, nil
}

func (b *MemoryBackend) WriteAll(_ context.Context, path string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	b.mu.Lock()
	b.entries[normPath(path)] = &memEntry{data: cp, lastAccess: b.now()}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, path string) error {
	p := normPath(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[p]; !ok {
		return cacheerr.WithPath(cacheerr.NotFound, "remove", path, nil)
	}
	delete(b.entries, p)
	return nil
}

func (b *MemoryBackend) Stat(_ context.Context, path string) (Info, error) {
	p := normPath(path)
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[p]
	if !ok {
		return Info{}, cacheerr.WithPath(cacheerr.NotFound, "stat", path, nil)
	}
	return Info{Size: int64(len(e.data)), LastAccess: e.lastAccess}, nil
}

func (b *MemoryBackend) Touch(_ context.Context, path string) error {
	p := normPath(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[p]
	if !ok {
		return cacheerr.WithPath(cacheerr.NotFound, "touch", path, nil)
	}
	e.lastAccess = b.now()
	return nil
}

type memCursor struct {
	paths []string
	i     int
}

func (c *memCursor) Next() bool {
	c.i++
	return c.i < len(c.paths)
}
func (c *memCursor) Path() string { return c.paths[c.i] }
func (c *memCursor) Err() error   { return nil }
func (c *memCursor) Close() error { return nil }

func (b *MemoryBackend) List(_ context.Context, prefix string) (Cursor, error) {
	p := normPath(prefix)
	b.mu.RLock()
	var paths []string
	for k := range b.entries {
		if strings.HasPrefix(k, p) {
			paths = append(paths, k)
		}
	}
	b.mu.RUnlock()
	sort.Strings(paths)
	return &memCursor{paths: paths, i: -1}, nil
}
