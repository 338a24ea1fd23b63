// Package cacheserver implements the HTTP surface over one or more
// named internal/localcache.Cache instances: health, streamed entry
// GET/PUT, and a per-cache periodic cleanup scheduler.
//
// Grounded on 2lar-b2/backend's chi router (interfaces/http/rest/v1/
// router.go: chi.Router, a versioned health handler, per-route
// middleware) generalized from a CRUD REST API to the three routes
// this server exposes, with request bodies piped straight into the
// local cache instead of being decoded into structs.
package cacheserver

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"btdt/internal/authz"
	"btdt/internal/cachehttp"
	"btdt/internal/cacheerr"
	"btdt/internal/localcache"
)

type requestIDKey struct{}

// requestID middleware stamps every request with a uuid, reusing one
// supplied by the caller in X-Request-ID if present, so a failure
// logged server-side can be correlated back to the client's own logs
// without leaking internal error detail in the response body.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func reqIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Server wires a set of named caches behind the routes below.
type Server struct {
	caches   map[string]*localcache.Cache
	verifier authz.Verifier
	log      *slog.Logger
}

// New builds a Server. caches maps a cache name (as it appears in the
// URL, `/api/caches/{name}/...`) to the localcache.Cache backing it.
func New(caches map[string]*localcache.Cache, verifier authz.Verifier, log *slog.Logger) *Server {
	if verifier == nil {
		verifier = authz.AllowAll{}
	}
	return &Server{caches: caches, verifier: verifier, log: log}
}

// Router builds the chi.Router exposing:
//
//	GET  /api/health
//	GET  /api/caches/{name}/entries/{key}
//	PUT  /api/caches/{name}/entries/{keys}   (comma-separated)
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logging)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/caches/{name}/entries/{key}", s.handleGet)
	r.Put("/api/caches/{name}/entries/{keys}", s.handlePut)

	return r
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", reqIDFrom(r.Context()),
		)
	})
}

func (s *Server) cache(name string) (*localcache.Cache, bool) {
	c, ok := s.caches[name]
	return c, ok
}

// handleHealth reports 200 when every configured cache answers Ping,
// 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for name, c := range s.caches {
		if err := c.Ping(ctx); err != nil {
			s.log.Warn("health check failed", "cache", name, "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) bearerToken(r *http.Request) []byte {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return nil
	}
	return []byte(strings.TrimPrefix(h, prefix))
}

func (s *Server) authorize(r *http.Request, cacheName, operation string) error {
	return s.verifier.Verify(s.bearerToken(r), cacheName, operation)
}

// handleGet streams an entry's bytes straight to the response body,
// setting Content-Length when the cache reports a known size.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := reqIDFrom(ctx)
	name := chi.URLParam(r, "name")
	key := chi.URLParam(r, "key")

	c, ok := s.cache(name)
	if !ok {
		writeError(w, s.log, reqID, cacheerr.New(cacheerr.NotFound, "no such cache: "+name))
		return
	}
	if err := s.authorize(r, name, "get"); err != nil {
		writeError(w, s.log, reqID, err)
		return
	}

	body, size, err := c.Get(ctx, key)
	if err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	defer body.Close()

	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := cachehttp.CopyBody(w, body); err != nil {
		s.log.Error("stream entry to client failed", "request_id", reqID, "cache", name, "key", key, "error", err)
	}
}

// handlePut pipes the request body directly into the named cache
// under the comma-separated key list: RECEIVE_HEADERS -> AUTHORIZE ->
// STREAM_BODY -> COMMIT -> RESPOND. An authorization failure that
// happens after headers are parsed but before the body is read still
// drains and discards the body before responding.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := reqIDFrom(ctx)
	name := chi.URLParam(r, "name")
	keysParam := chi.URLParam(r, "keys")

	c, ok := s.cache(name)
	if !ok {
		drainAndDiscard(r)
		writeError(w, s.log, reqID, cacheerr.New(cacheerr.NotFound, "no such cache: "+name))
		return
	}
	if err := s.authorize(r, name, "put"); err != nil {
		drainAndDiscard(r)
		writeError(w, s.log, reqID, err)
		return
	}

	keys := strings.Split(keysParam, ",")
	if len(keys) == 0 || keys[0] == "" {
		drainAndDiscard(r)
		writeError(w, s.log, reqID, cacheerr.New(cacheerr.InvalidInput, "put requires at least one key"))
		return
	}

	if err := c.Set(ctx, keys, r.Body); err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func drainAndDiscard(r *http.Request) {
	if r.Body == nil {
		return
	}
	_, _ = cachehttp.CopyBody(discard{}, r.Body)
	_ = r.Body.Close()
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// writeError maps a cacheerr.Kind to an HTTP status with a generic
// body that never carries the underlying error: not-found -> 404,
// unauthorized -> 401, forbidden -> 403, invalid-input -> 400,
// timeout -> 504, anything else -> 500. Only for a 500 is the
// underlying error logged server-side, under reqID.
func writeError(w http.ResponseWriter, log *slog.Logger, reqID string, err error) {
	status, body := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "request_id", reqID, "error", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func statusFor(err error) (int, string) {
	switch cacheerr.KindOf(err) {
	case cacheerr.NotFound:
		return http.StatusNotFound, "not found"
	case cacheerr.Unauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case cacheerr.Forbidden:
		return http.StatusForbidden, "forbidden"
	case cacheerr.InvalidInput:
		return http.StatusBadRequest, "invalid input"
	case cacheerr.Timeout:
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
