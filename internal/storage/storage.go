// Package storage implements the blob+directory abstraction shared by
// every cache realization: a namespace of logical paths supporting
// exists/read/write/remove/list/stat/touch, safe for concurrent use
// from many callers. internal/localcache and internal/cacheserver
// never touch a filesystem or an S3 bucket directly; they only ever
// see a Backend.
//
// Grounded on Portsy's atomic-write pattern in backend/localcache.go
// (SaveLocalCache: temp file in the same directory, fsync, close,
// rename, best-effort directory fsync) and backend/storage_r2.go
// (DownloadTo's identical dance against a remote object store),
// generalized from "one JSON blob" / "one R2 object" to an arbitrary
// logical-path namespace with three interchangeable realizations
// (filesystem, memory, S3).
package storage

import (
	"context"
	"io"
	"time"
)

// Info is the result of Stat: a path's size and last-access time.
type Info struct {
	Size       int64
	LastAccess time.Time
}

// Sink is returned by OpenWrite. Callers write to it like any
// io.Writer, then call Commit to atomically publish the bytes at the
// requested path, or Discard to abandon the write. A Sink that is
// neither committed nor discarded (e.g. the process crashes, or the
// caller simply forgets) leaves nothing at the requested path:
// FilesystemBackend always writes to a staging file under <root>/tmp
// and only renames it into place on Commit. Such an abandoned staging
// file stays in tmp/; the backend does not remove it.
type Sink interface {
	io.Writer

	// Commit finalizes the write, making the bytes visible at the
	// path OpenWrite was called with. After Commit returns (success
	// or failure) the Sink must not be written to again.
	Commit() error

	// Discard abandons the write; any staged bytes are removed. Safe
	// to call after a failed Commit, and safe to call more than once.
	Discard() error
}

// Cursor is the lazy sequence of logical paths returned by List. Call
// Next until it returns false, then check Err for anything other than
// natural exhaustion.
type Cursor interface {
	Next() bool
	Path() string
	Err() error
	Close() error
}

// Backend is the storage contract every cache realization implements.
// Every method must be safe to call concurrently from many goroutines;
// interior synchronization is the backend's concern, not the caller's.
type Backend interface {
	Exists(ctx context.Context, path string) (bool, error)

	// OpenRead returns a stream over path's current contents and its
	// size (size is -1 when the backend cannot report it cheaply;
	// S3Backend does so when the object's Content-Length is missing).
	OpenRead(ctx context.Context, path string) (io.ReadCloser, int64, error)

	// OpenWrite returns a Sink with atomic-commit semantics (see
	// Sink). It does not create path; nothing is visible until
	// Commit.
	OpenWrite(ctx context.Context, path string) (Sink, error)

	// WriteAll is a convenience for callers that already hold the
	// full payload in memory (e.g. a small key-mapping record) and
	// want a single atomic write without managing a Sink by hand.
	WriteAll(ctx context.Context, path string, data []byte) error

	Remove(ctx context.Context, path string) error

	// List returns every path with the given prefix, lazily.
	List(ctx context.Context, prefix string) (Cursor, error)

	Stat(ctx context.Context, path string) (Info, error)

	// Touch refreshes path's last-access time without reading or
	// rewriting its content.
	Touch(ctx context.Context, path string) error
}
