package cacheserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"btdt/internal/localcache"
)

// CleanupSpec is one cache's cleanup policy: how often to run, and the
// bounds passed to localcache.Cache.Clean.
type CleanupSpec struct {
	Interval time.Duration
	MaxAge   time.Duration
	MaxSize  int64
}

// Scheduler runs Clean on every configured cache on its own interval,
// with one goroutine per cache, so different caches may be cleaned at
// the same time: only one cleanup runs at a time per cache, and
// overlapping ticks are coalesced into that one in-flight run.
type Scheduler struct {
	log *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// NewScheduler builds a Scheduler that logs through log.
func NewScheduler(log *slog.Logger) *Scheduler {
	return &Scheduler{log: log, running: make(map[string]bool)}
}

// Run starts one ticker goroutine per entry of caches and blocks until
// ctx is canceled. An in-progress cleanup is allowed to finish its
// current file before the goroutine exits.
func (s *Scheduler) Run(ctx context.Context, caches map[string]*localcache.Cache, specs map[string]CleanupSpec) {
	var wg sync.WaitGroup
	for name, c := range caches {
		spec, ok := specs[name]
		if !ok || spec.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(name string, c *localcache.Cache, spec CleanupSpec) {
			defer wg.Done()
			s.loop(ctx, name, c, spec)
		}(name, c, spec)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, c *localcache.Cache, spec CleanupSpec) {
	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, name, c, spec)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, name string, c *localcache.Cache, spec CleanupSpec) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	var maxAge *time.Duration
	if spec.MaxAge > 0 {
		maxAge = &spec.MaxAge
	}
	var maxSize *int64
	if spec.MaxSize > 0 {
		maxSize = &spec.MaxSize
	}

	summary, err := c.Clean(ctx, maxAge, maxSize)
	if err != nil {
		s.log.Error("scheduled cleanup failed", "cache", name, "error", err)
		return
	}
	s.log.Info("scheduled cleanup finished",
		"cache", name,
		"mappings_deleted", summary.MappingsDeleted,
		"entries_deleted", summary.EntriesDeleted,
		"bytes_freed", summary.BytesFreed,
	)
}
