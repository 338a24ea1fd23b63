package storage

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"

	"btdt/internal/cacheerr"
)

// FilesystemBackend roots a Backend at a directory on a POSIX
// filesystem. Atomic commit uses rename(2) over the same filesystem
// (temp files live under <root>/tmp so the rename never crosses a
// device); Touch uses utimensat(2) via golang.org/x/sys/unix so access
// time is refreshed without reading or rewriting the file's content.
type FilesystemBackend struct {
	root string
}

// NewFilesystemBackend roots a backend at dir, creating it (and its
// tmp staging directory) if necessary.
func NewFilesystemBackend(dir string) (*FilesystemBackend, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, cacheerr.WithPath(cacheerr.IO, "resolve backend root", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, cacheerr.WithPath(cacheerr.IO, "create staging dir", root, err)
	}
	return &FilesystemBackend{root: root}, nil
}

func (b *FilesystemBackend) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)[1:]
	if clean == "" || clean == "." {
		return "", cacheerr.New(cacheerr.InvalidInput, "empty logical path")
	}
	full := filepath.Join(b.root, clean)
	if !strings.HasPrefix(full, b.root+string(filepath.Separator)) && full != b.root {
		return "", cacheerr.New(cacheerr.InvalidInput, "path escapes backend root")
	}
	return full, nil
}

func (b *FilesystemBackend) Exists(_ context.Context, path string) (bool, error) {
	full, err := b.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, cacheerr.WithPath(cacheerr.IO, "stat", path, err)
}

func (b *FilesystemBackend) OpenRead(_ context.Context, path string) (io.ReadCloser, int64, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, cacheerr.WithPath(cacheerr.NotFound, "open", path, err)
		}
		return nil, 0, cacheerr.WithPath(cacheerr.IO, "open", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, cacheerr.WithPath(cacheerr.IO, "stat", path, err)
	}
	// Refresh access time on successful read, best-effort: last-access
	// is refreshed on every successful read so LRU eviction sees it.
	_ = b.Touch(context.Background(), path)
	return f, fi.Size(), nil
}

type fsSink struct {
	f         *os.File
	tmpPath   string
	finalPath string
	closed    bool
}

func (s *fsSink) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *fsSink) Commit() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		_ = os.Remove(s.tmpPath)
		return cacheerr.WithPath(cacheerr.IO, "sync staged write", s.finalPath, err)
	}
	if err := s.f.Close(); err != nil {
		_ = os.Remove(s.tmpPath)
		return cacheerr.WithPath(cacheerr.IO, "close staged write", s.finalPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.finalPath), 0o755); err != nil {
		_ = os.Remove(s.tmpPath)
		return cacheerr.WithPath(cacheerr.IO, "create parent dir", s.finalPath, err)
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		_ = os.Remove(s.tmpPath)
		return cacheerr.WithPath(cacheerr.IO, "commit rename", s.finalPath, err)
	}
	if dir, err := os.Open(filepath.Dir(s.finalPath)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

func (s *fsSink) Discard() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.f.Close()
	err := os.Remove(s.tmpPath)
	if err != nil && !os.IsNotExist(err) {
		return cacheerr.WithPath(cacheerr.IO, "discard staged write", s.tmpPath, err)
	}
	return nil
}

func (b *FilesystemBackend) OpenWrite(_ context.Context, path string) (Sink, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	stageDir := filepath.Join(b.root, "tmp")
	f, err := os.CreateTemp(stageDir, ".stage-*")
	if err != nil {
		return nil, cacheerr.WithPath(cacheerr.IO, "create staging file", path, err)
	}
	return &fsSink{f: f, tmpPath: f.Name(), finalPath: full}, nil
}

// WriteAll writes small, fully-buffered payloads (key mapping records)
// through github.com/natefinch/atomic rather than the hand-rolled
// streaming Sink above: the payload already fits
// in memory, so there is nothing to gain from staging it ourselves,
// and the library gives the same same-directory-temp-then-rename
// guarantee in one call.
func (b *FilesystemBackend) WriteAll(_ context.Context, path string, data []byte) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return cacheerr.WithPath(cacheerr.IO, "create parent dir", path, err)
	}
	if err := atomic.WriteFile(full, bytes.NewReader(data)); err != nil {
		return cacheerr.WithPath(cacheerr.IO, "atomic write", path, err)
	}
	return nil
}

func (b *FilesystemBackend) Remove(_ context.Context, path string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return cacheerr.WithPath(cacheerr.NotFound, "remove", path, err)
		}
		return cacheerr.WithPath(cacheerr.IO, "remove", path, err)
	}
	return nil
}

func (b *FilesystemBackend) Stat(_ context.Context, path string) (Info, error) {
	full, err := b.resolve(path)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, cacheerr.WithPath(cacheerr.NotFound, "stat", path, err)
		}
		return Info{}, cacheerr.WithPath(cacheerr.IO, "stat", path, err)
	}
	return Info{Size: fi.Size(), LastAccess: accessTime(fi)}, nil
}

func (b *FilesystemBackend) Touch(_ context.Context, path string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	now := unix.NsecToTimespec(time.Now().UnixNano())
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, full, []unix.Timespec{now, now}, 0); err != nil {
		if err == unix.ENOENT {
			return cacheerr.WithPath(cacheerr.NotFound, "touch", path, err)
		}
		return cacheerr.WithPath(cacheerr.IO, "touch", path, err)
	}
	return nil
}

type fsCursor struct {
	paths []string
	i     int
}

func (c *fsCursor) Next() bool {
	c.i++
	return c.i < len(c.paths)
}
func (c *fsCursor) Path() string { return c.paths[c.i] }
func (c *fsCursor) Err() error   { return nil }
func (c *fsCursor) Close() error { return nil }

func (b *FilesystemBackend) List(_ context.Context, prefix string) (Cursor, error) {
	clean := filepath.Clean("/" + prefix)[1:]
	root := filepath.Join(b.root, clean)

	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, cacheerr.WithPath(cacheerr.IO, "list", prefix, err)
	}
	sort.Strings(paths)
	return &fsCursor{paths: paths, i: -1}, nil
}
