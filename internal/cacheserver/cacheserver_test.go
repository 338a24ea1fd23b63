package cacheserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"btdt/internal/authz"
	"btdt/internal/cachelog"
	"btdt/internal/localcache"
	"btdt/internal/storage"
)

func newTestServer(t *testing.T, verifier authz.Verifier) (*httptest.Server, *localcache.Cache) {
	t.Helper()
	c := localcache.New(storage.NewMemoryBackend())
	s := New(map[string]*localcache.Cache{"default": c}, verifier, cachelog.Discard())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, c
}

func TestHealthReportsOKWhenCachesReachable(t *testing.T) {
	srv, _ := newTestServer(t, authz.AllowAll{})

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPutThenGetRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, authz.AllowAll{})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/caches/default/entries/k1,k2", strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	get, err := http.Get(srv.URL + "/api/caches/default/entries/k2")
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	body, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body))
}

func TestGetMissingKeyReturns404(t *testing.T) {
	srv, _ := newTestServer(t, authz.AllowAll{})

	resp, err := http.Get(srv.URL + "/api/caches/default/entries/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetUnknownCacheReturns404(t *testing.T) {
	srv, _ := newTestServer(t, authz.AllowAll{})

	resp, err := http.Get(srv.URL + "/api/caches/nope/entries/k1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutWithoutGrantReturnsForbidden(t *testing.T) {
	v := authz.NewStaticTokenVerifier()
	v.Grant("tok", "default", "get")
	srv, _ := newTestServer(t, v)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/caches/default/entries/k1", strings.NewReader("x"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGetWithoutTokenReturnsUnauthorized(t *testing.T) {
	v := authz.NewStaticTokenVerifier()
	v.Grant("tok", "default", "get")
	srv, _ := newTestServer(t, v)

	resp, err := http.Get(srv.URL + "/api/caches/default/entries/k1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSchedulerRunReturnsWhenContextCanceled(t *testing.T) {
	c := localcache.New(storage.NewMemoryBackend())
	require.NoError(t, c.Set(context.Background(), []string{"k1"}, strings.NewReader("v")))

	s := NewScheduler(cachelog.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s.Run(ctx, map[string]*localcache.Cache{"default": c}, map[string]CleanupSpec{
		"default": {Interval: 5 * time.Millisecond, MaxAge: time.Hour, MaxSize: 1 << 30},
	})
}
