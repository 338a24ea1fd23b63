// Package orchestrator implements the restore/store/clean intent
// reconciliation shared by the CLI: a handful of cache keys are tried
// in order, the first one that resolves wins, and the result is
// reported through the exit-code taxonomy below rather than a bare
// error. It knows nothing about flags or stdout/stderr formatting;
// cmd/btdt owns that, and only calls in here to decide what to do once
// a Cache and a set of keys are in hand.
//
// Grounded on calvinalkan-agent-task/internal/cli's split between
// pure command logic (exec*/internal/ticket calls returning a plain
// error) and the dispatcher that turns errors into process exit codes
// (cli.Command.Run); this package is the former half for this module,
// generalized from "one outcome, exit 0 or 1" to "first successful key
// wins, which key decides whether it's exit 0 or 3".
package orchestrator

import (
	"context"
	"io"
	"time"

	"btdt/internal/cacheerr"
	"btdt/internal/codec"
	"btdt/internal/localcache"
)

// Exit codes, matching the CLI surface's documented mapping.
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitBadInvocation   = 2
	ExitFallbackSuccess = 3
	ExitNoKeyFound      = 4
)

// Cache is the subset of local-or-remote cache behavior the
// orchestrator needs: internal/remotecache.Client satisfies it
// directly and internal/localcache.Cache does through NewLocalCache,
// so callers pick one based on whether --cache names a directory or a
// URL.
type Cache interface {
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, keys []string, src io.Reader, size int64) error
}

// localAdapter makes *localcache.Cache satisfy Cache: Set has no size
// parameter because the local cache stages the stream and then
// promotes it to its content-addressed entry, rather than needing a
// declared Content-Length up front.
type localAdapter struct{ c *localcache.Cache }

// NewLocalCache adapts a localcache.Cache to the Cache interface.
func NewLocalCache(c *localcache.Cache) Cache { return localAdapter{c: c} }

func (a localAdapter) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return a.c.Get(ctx, key)
}

func (a localAdapter) Put(ctx context.Context, keys []string, src io.Reader, _ int64) error {
	return a.c.Set(ctx, keys, src)
}

// RestoreResult reports which key (if any) resolved the restore.
type RestoreResult struct {
	ExitCode  int
	MatchedKey string
	KeyIndex  int // -1 if no key matched
}

// Restore tries keys in order against cache, decoding the first hit
// into destRoot via the directory-tree codec. successRCOnAnyKey
// collapses the fallback-key success case (3) into the primary-key
// success case (0).
func Restore(ctx context.Context, cache Cache, keys []string, destRoot string, successRCOnAnyKey bool) (RestoreResult, error) {
	for i, key := range keys {
		rc, _, err := cache.Get(ctx, key)
		if err != nil {
			if cacheerr.Is(err, cacheerr.NotFound) {
				continue
			}
			return RestoreResult{ExitCode: ExitGeneralError, KeyIndex: -1}, err
		}

		decodeErr := codec.Decode(rc, destRoot)
		rc.Close()
		if decodeErr != nil {
			return RestoreResult{ExitCode: ExitGeneralError, KeyIndex: -1}, decodeErr
		}

		code := ExitFallbackSuccess
		if i == 0 || successRCOnAnyKey {
			code = ExitSuccess
		}
		return RestoreResult{ExitCode: code, MatchedKey: key, KeyIndex: i}, nil
	}
	return RestoreResult{ExitCode: ExitNoKeyFound, KeyIndex: -1}, nil
}

// Store encodes srcRoot as a directory-tree stream and pipes it into
// cache under keys without buffering the whole tree in memory: Encode
// writes into the pipe while Put reads from the other end on the
// calling goroutine.
func Store(ctx context.Context, cache Cache, keys []string, srcRoot string) error {
	pr, pw := io.Pipe()

	go func() {
		err := codec.Encode(pw, srcRoot)
		pw.CloseWithError(err)
	}()

	return cache.Put(ctx, keys, pr, -1)
}

// Clean invokes the local cache's eviction sweep. Clean is a
// local-only operation: the HTTP surface runs it on a schedule, not on
// demand, so a remote --cache location cannot be cleaned directly.
func Clean(ctx context.Context, c *localcache.Cache, maxAge *time.Duration, maxSize *int64) (localcache.Summary, error) {
	return c.Clean(ctx, maxAge, maxSize)
}
