// Command btdt-server runs the HTTP cache server: it loads a TOML
// config file, opens a storage backend per configured cache, and
// serves GET/PUT/health over one or more bind addresses while a
// background scheduler runs eviction on each cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"btdt/internal/authz"
	"btdt/internal/cachelog"
	"btdt/internal/cacheserver"
	"btdt/internal/config"
	"btdt/internal/localcache"
	"btdt/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to TOML config file")
		logFormat  = flag.String("log-format", "text", "text | json")
		logLevel   = flag.String("log-level", "info", "debug | info | warn | error")
	)
	flag.Parse()

	_ = godotenv.Overload(".env")

	log := cachelog.New(os.Stderr, cachelog.Format(*logFormat), *logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "err", err)
		return 1
	}

	if cfg.AuthPrivateKey != "" {
		if err := config.EnsureAuthPrivateKey(cfg.AuthPrivateKey); err != nil {
			log.Error("ensure auth private key", "err", err)
			return 1
		}
	}

	caches, err := openCaches(context.Background(), cfg)
	if err != nil {
		log.Error("open caches", "err", err)
		return 1
	}

	verifier := buildVerifier(cfg)

	srv := cacheserver.New(caches, verifier, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched := cacheserver.NewScheduler(log)
	specs := cleanupSpecs(cfg)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx, caches, specs)
	}()

	servers := startListeners(ctx, log, cfg.BindAddrs, srv.Router())

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	for _, hs := range servers {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown http server", "addr", hs.Addr, "err", err)
		}
	}
	wg.Wait()
	return 0
}

func openCaches(ctx context.Context, cfg config.Config) (map[string]*localcache.Cache, error) {
	caches := make(map[string]*localcache.Cache, len(cfg.Caches))
	for name, spec := range cfg.Caches {
		var backend storage.Backend
		var err error
		switch spec.Type {
		case "Filesystem":
			backend, err = storage.NewFilesystemBackend(spec.Path)
		case "InMemory":
			backend = storage.NewMemoryBackend()
		case "S3":
			backend, err = storage.NewS3Backend(ctx, storage.S3Config{
				Bucket:    spec.Bucket,
				Region:    spec.Region,
				Endpoint:  spec.Endpoint,
				KeyPrefix: spec.KeyPrefix,
				AccessKey: spec.AccessKey,
				SecretKey: spec.SecretKey,
			})
		default:
			return nil, fmt.Errorf("cache %q: unknown type %q", name, spec.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("cache %q: %w", name, err)
		}
		caches[name] = localcache.New(backend)
	}
	return caches, nil
}

// buildVerifier returns AllowAll for now: the real biscuit-v2 verifier
// is an external collaborator's concern (see internal/authz), so the
// server ships wired for the no-op case until one is plugged in.
func buildVerifier(cfg config.Config) authz.Verifier {
	return authz.AllowAll{}
}

func cleanupSpecs(cfg config.Config) map[string]cacheserver.CleanupSpec {
	specs := make(map[string]cacheserver.CleanupSpec, len(cfg.Caches))
	for name := range cfg.Caches {
		specs[name] = cacheserver.CleanupSpec{
			Interval: cfg.Cleanup.Interval.Duration,
			MaxAge:   cfg.Cleanup.CacheExpiration.Duration,
			MaxSize:  int64(cfg.Cleanup.MaxCacheSize),
		}
	}
	return specs
}

func startListeners(ctx context.Context, log *slog.Logger, addrs []string, handler http.Handler) []*http.Server {
	servers := make([]*http.Server, 0, len(addrs))
	for _, addr := range addrs {
		hs := &http.Server{Addr: addr, Handler: handler}
		servers = append(servers, hs)
		go func(hs *http.Server) {
			log.Info("listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server", "addr", hs.Addr, "err", err)
			}
		}(hs)
	}
	return servers
}
