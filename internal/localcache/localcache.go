// Package localcache implements the cache state machine: content-
// addressed entries under a storage.Backend, reached through small
// key-mapping records, with LRU+TTL eviction.
//
// On-disk layout, realized over any storage.Backend:
//
//	entries/<hh>/<full-hash>    immutable blob
//	keys/<encoded-key>          small record -> hash
//	staging/<random>            transient, promoted or removed by Set
//
// Eviction order and the committed/uncommitted distinction during
// concurrent cleanup are grounded on bazel-remote's disk cache
// (lruItem.committed, eviction-time double-removal of both the blob
// and any still-uploading temp file).
package localcache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"time"

	"btdt/internal/cacheerr"
	"btdt/internal/digest"
	"btdt/internal/storage"
)

// staleTolerance is the small window within which a last-access
// refresh observed mid-cleanup is treated as "happened before
// enumeration began" rather than aborting the delete outright: Clean
// re-stats before unlinking and aborts the unlink only if the
// timestamp moved forward by more than this tolerance window.
const staleTolerance = 2 * time.Second

// Cache is a content-addressed local cache backed by a storage.Backend.
type Cache struct {
	backend storage.Backend
	now     func() time.Time
}

// New wraps backend in a Cache.
func New(backend storage.Backend) *Cache {
	return &Cache{backend: backend, now: time.Now}
}

func keyPath(key string) string {
	return "keys/" + hex.EncodeToString([]byte(key))
}

func entryPath(h digest.Hash) string {
	s := h.String()
	return "entries/" + s[:2] + "/" + s
}

func stagingPath() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "staging/" + hex.EncodeToString(b[:])
}

// Ping performs a cheap reachability check against the underlying
// backend, for the server's health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	cur, err := c.backend.List(ctx, "")
	if err != nil {
		return err
	}
	defer cur.Close()
	cur.Next()
	return cur.Err()
}

// Get returns a stream over the entry key currently maps to, along
// with its byte length. It fails with NotFound if no mapping exists;
// if the mapping references a missing entry, the dangling mapping is
// removed (self-healed) and NotFound is returned.
func (c *Cache) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	kp := keyPath(key)

	mappingBytes, err := c.readSmall(ctx, kp)
	if err != nil {
		if cacheerr.Is(err, cacheerr.NotFound) {
			return nil, 0, cacheerr.New(cacheerr.NotFound, "no mapping for key")
		}
		return nil, 0, err
	}
	h, err := digest.Parse(string(mappingBytes))
	if err != nil {
		return nil, 0, cacheerr.Wrap(cacheerr.Corrupt, "key mapping does not contain a valid hash", err)
	}

	ep := entryPath(h)
	exists, err := c.backend.Exists(ctx, ep)
	if err != nil {
		return nil, 0, cacheerr.Wrap(cacheerr.IO, "check entry existence", err)
	}
	if !exists {
		_ = c.backend.Remove(ctx, kp) // self-heal: drop the dangling mapping
		return nil, 0, cacheerr.New(cacheerr.NotFound, "mapping referenced missing entry (removed)")
	}

	body, size, err := c.backend.OpenRead(ctx, ep)
	if err != nil {
		return nil, 0, cacheerr.Wrap(cacheerr.IO, "open entry", err)
	}
	_ = c.backend.Touch(ctx, kp) // best-effort; a lost refresh only degrades eviction quality
	return body, size, nil
}

// Set streams src into a staging entry while hashing it, commits the
// staging blob to entries/<H>, then atomically points each of keys at
// H. If the entry commit fails, no mapping is updated. If some but
// not all mappings fail, the successfully-updated keys stand and the
// error is reported.
func (c *Cache) Set(ctx context.Context, keys []string, src io.Reader) error {
	if len(keys) == 0 {
		return cacheerr.New(cacheerr.InvalidInput, "set requires at least one key")
	}

	sp := stagingPath()
	sink, err := c.backend.OpenWrite(ctx, sp)
	if err != nil {
		return cacheerr.Wrap(cacheerr.IO, "open staging sink", err)
	}

	hasher := digest.New()
	buf := make([]byte, digest.BufSize)
	if _, err := io.CopyBuffer(io.MultiWriter(sink, hasher), src, buf); err != nil {
		_ = sink.Discard()
		return cacheerr.Wrap(cacheerr.IO, "stream source into staging", err)
	}
	if err := sink.Commit(); err != nil {
		return cacheerr.Wrap(cacheerr.IO, "commit staging entry", err)
	}

	h := hasher.Sum()
	ep := entryPath(h)

	if err := c.promoteStagingToEntry(ctx, sp, ep); err != nil {
		_ = c.backend.Remove(ctx, sp)
		return err
	}

	var firstErr error
	for _, key := range keys {
		if err := c.backend.WriteAll(ctx, keyPath(key), []byte(h.String())); err != nil {
			if firstErr == nil {
				firstErr = cacheerr.Wrap(cacheerr.IO, "point key at entry", err)
			}
		}
	}
	return firstErr
}

// promoteStagingToEntry publishes the bytes staged at stagingPath as
// the content-addressed entry at entryPath. storage.Backend has no
// rename primitive (it would not generalize across Filesystem/Memory/
// S3 uniformly), so promotion is a bounded-memory stream copy,
// followed by removing the staging blob. If entryPath already exists
// (a concurrent Set produced the same hash and won the race), the
// copy is skipped entirely: content-addressing means the bytes are
// already correct, so one writer wins and the other's staging file is
// simply discarded.
func (c *Cache) promoteStagingToEntry(ctx context.Context, stagingPath, entryPath string) error {
	exists, err := c.backend.Exists(ctx, entryPath)
	if err != nil {
		return cacheerr.Wrap(cacheerr.IO, "check existing entry", err)
	}
	if exists {
		return c.backend.Remove(ctx, stagingPath)
	}

	rc, _, err := c.backend.OpenRead(ctx, stagingPath)
	if err != nil {
		return cacheerr.Wrap(cacheerr.IO, "reopen staging entry", err)
	}
	defer rc.Close()

	sink, err := c.backend.OpenWrite(ctx, entryPath)
	if err != nil {
		return cacheerr.Wrap(cacheerr.IO, "open entry sink", err)
	}
	buf := make([]byte, digest.BufSize)
	if _, err := io.CopyBuffer(sink, rc, buf); err != nil {
		_ = sink.Discard()
		return cacheerr.Wrap(cacheerr.IO, "promote staging entry", err)
	}
	if err := sink.Commit(); err != nil {
		return cacheerr.Wrap(cacheerr.IO, "commit entry", err)
	}
	return c.backend.Remove(ctx, stagingPath)
}

func (c *Cache) readSmall(ctx context.Context, path string) ([]byte, error) {
	rc, _, err := c.backend.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Summary reports the outcome of Clean.
type Summary struct {
	MappingsDeleted int
	EntriesDeleted  int
	BytesFreed      int64
}

// Clean runs the cache's eviction pass. maxAge and maxSize are both
// optional (nil means "no bound on this axis"). Clean is
// safe to run concurrently with Get/Set: every delete is preceded by
// a re-stat that aborts the delete if the item's last-access moved
// forward since enumeration began (within staleTolerance). A canceled
// ctx stops the pass before the next mapping or entry is considered.
func (c *Cache) Clean(ctx context.Context, maxAge *time.Duration, maxSize *int64) (Summary, error) {
	start := c.now()
	var summary Summary

	keyLastAccess, keyHash, err := c.enumerateKeys(ctx)
	if err != nil {
		return summary, err
	}

	if maxAge != nil {
		for kp, lastAccess := range keyLastAccess {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			if start.Sub(lastAccess) <= *maxAge {
				continue
			}
			deleted, err := c.deleteIfStillStale(ctx, kp, lastAccess)
			if err != nil {
				return summary, err
			}
			if deleted {
				summary.MappingsDeleted++
				delete(keyLastAccess, kp)
				delete(keyHash, kp)
			}
		}
	}

	// Reverse index: hash -> best (max) last-access among surviving
	// mappings that reference it, and hash -> list of mapping paths
	// (for size-bound cascade deletes).
	mappingLastAccessByHash := map[string]time.Time{}
	mappingPathsByHash := map[string][]string{}
	for kp, h := range keyHash {
		mappingPathsByHash[h] = append(mappingPathsByHash[h], kp)
		if cur, ok := mappingLastAccessByHash[h]; !ok || keyLastAccess[kp].After(cur) {
			mappingLastAccessByHash[h] = keyLastAccess[kp]
		}
	}

	type entryInfo struct {
		path       string
		hash       string
		size       int64
		effective  time.Time
	}
	entries, err := c.enumerateEntries(ctx)
	if err != nil {
		return summary, err
	}

	var kept []entryInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		effective := e.lastAccess
		if t, ok := mappingLastAccessByHash[e.hash]; ok && t.After(effective) {
			effective = t
		}
		info := entryInfo{path: e.path, hash: e.hash, size: e.size, effective: effective}

		if _, referenced := mappingLastAccessByHash[e.hash]; !referenced {
			ok, err := c.deleteEntryIfStillStale(ctx, e.path, e.lastAccess)
			if err != nil {
				return summary, err
			}
			if ok {
				summary.EntriesDeleted++
				summary.BytesFreed += e.size
				continue
			}
		}
		kept = append(kept, info)
	}

	if maxSize != nil {
		var total int64
		for _, e := range kept {
			total += e.size
		}
		if total > *maxSize {
			sort.Slice(kept, func(i, j int) bool {
				if !kept[i].effective.Equal(kept[j].effective) {
					return kept[i].effective.Before(kept[j].effective)
				}
				return kept[i].hash < kept[j].hash
			})
			for _, e := range kept {
				if total <= *maxSize {
					break
				}
				if err := ctx.Err(); err != nil {
					return summary, err
				}
				ok, err := c.deleteEntryIfStillStale(ctx, e.path, e.effective)
				if err != nil {
					return summary, err
				}
				if !ok {
					continue
				}
				total -= e.size
				summary.EntriesDeleted++
				summary.BytesFreed += e.size
				for _, kp := range mappingPathsByHash[e.hash] {
					if err := c.backend.Remove(ctx, kp); err != nil && !cacheerr.Is(err, cacheerr.NotFound) {
						return summary, cacheerr.Wrap(cacheerr.IO, "cascade-delete mapping", err)
					}
					summary.MappingsDeleted++
				}
			}
		}
	}

	return summary, nil
}

func (c *Cache) deleteIfStillStale(ctx context.Context, path string, observedLastAccess time.Time) (bool, error) {
	info, err := c.backend.Stat(ctx, path)
	if err != nil {
		if cacheerr.Is(err, cacheerr.NotFound) {
			return false, nil
		}
		return false, cacheerr.Wrap(cacheerr.IO, "re-stat before delete", err)
	}
	if info.LastAccess.Sub(observedLastAccess) > staleTolerance {
		return false, nil
	}
	if err := c.backend.Remove(ctx, path); err != nil {
		if cacheerr.Is(err, cacheerr.NotFound) {
			return false, nil
		}
		return false, cacheerr.Wrap(cacheerr.IO, "delete", err)
	}
	return true, nil
}

func (c *Cache) deleteEntryIfStillStale(ctx context.Context, path string, observedLastAccess time.Time) (bool, error) {
	return c.deleteIfStillStale(ctx, path, observedLastAccess)
}

func (c *Cache) enumerateKeys(ctx context.Context) (lastAccess map[string]time.Time, hash map[string]string, err error) {
	lastAccess = map[string]time.Time{}
	hash = map[string]string{}

	cur, err := c.backend.List(ctx, "keys/")
	if err != nil {
		return nil, nil, cacheerr.Wrap(cacheerr.IO, "list key mappings", err)
	}
	defer cur.Close()

	for cur.Next() {
		p := cur.Path()
		info, err := c.backend.Stat(ctx, p)
		if err != nil {
			if cacheerr.Is(err, cacheerr.NotFound) {
				continue
			}
			return nil, nil, cacheerr.Wrap(cacheerr.IO, "stat key mapping", err)
		}
		data, err := c.readSmall(ctx, p)
		if err != nil {
			if cacheerr.Is(err, cacheerr.NotFound) {
				continue
			}
			return nil, nil, cacheerr.Wrap(cacheerr.IO, "read key mapping", err)
		}
		lastAccess[p] = info.LastAccess
		hash[p] = strings.TrimSpace(string(data))
	}
	if err := cur.Err(); err != nil {
		return nil, nil, cacheerr.Wrap(cacheerr.IO, "iterate key mappings", err)
	}
	return lastAccess, hash, nil
}

type enumeratedEntry struct {
	path       string
	hash       string
	size       int64
	lastAccess time.Time
}

func (c *Cache) enumerateEntries(ctx context.Context) ([]enumeratedEntry, error) {
	cur, err := c.backend.List(ctx, "entries/")
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.IO, "list entries", err)
	}
	defer cur.Close()

	var out []enumeratedEntry
	for cur.Next() {
		p := cur.Path()
		info, err := c.backend.Stat(ctx, p)
		if err != nil {
			if cacheerr.Is(err, cacheerr.NotFound) {
				continue
			}
			return nil, cacheerr.Wrap(cacheerr.IO, "stat entry", err)
		}
		idx := strings.LastIndexByte(p, '/')
		h := p
		if idx >= 0 {
			h = p[idx+1:]
		}
		out = append(out, enumeratedEntry{path: p, hash: h, size: info.Size, lastAccess: info.LastAccess})
	}
	if err := cur.Err(); err != nil {
		return nil, cacheerr.Wrap(cacheerr.IO, "iterate entries", err)
	}
	return out, nil
}
