// Package remotecache implements the HTTP/1.1 remote cache client:
// GET/PUT against a `http(s)://host:port/api/caches/<name>` base URL,
// chunked-or-Content-Length request framing, optional bearer token and
// custom TLS root bundle. It intentionally does not retry transient
// TCP/TLS errors; retrying belongs to the CI job invoking it, not this
// layer.
package remotecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"btdt/internal/cachehttp"
	"btdt/internal/cacheerr"
)

// Default timeouts: 30s connect, 300s total, 30s idle.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultTotalTimeout   = 300 * time.Second
	DefaultIdleTimeout    = 30 * time.Second
)

// Client is a minimal HTTP/1.1 remote cache client bound to one
// `{base}` cache URL.
type Client struct {
	BaseURL string
	http    *http.Client

	// AuthToken, when non-empty, is sent as "Authorization: Bearer
	// <AuthToken>" on every request. Load it with ReadTokenFile.
	AuthToken string
}

// New builds a Client against baseURL (of the form
// `http(s)://host:port/api/caches/<name>`), optionally trusting only
// the PEM root bundle at rootCertPath instead of the system trust
// store. rootCertPath replaces the system trust store rather than
// augmenting it.
func New(baseURL string, rootCertPath string) (*Client, error) {
	transport, err := buildTransport(rootCertPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   DefaultTotalTimeout,
		},
	}, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
}

// Get streams the entry stored at key. On a 404 response it returns
// cacheerr.NotFound.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	u := c.BaseURL + "/entries/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, cacheerr.Wrap(cacheerr.InvalidInput, "build get request", err)
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, resp.ContentLength, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, cacheerr.New(cacheerr.NotFound, "key not found")
	default:
		return nil, 0, classifyStatus(resp)
	}
}

// Put streams src to the server under keys (comma-joined in the URL).
// If size >= 0 the request uses Content-Length;
// otherwise Transfer-Encoding: chunked via net/http's own handling of
// a request body with ContentLength == -1 (or unset) and no declared
// length.
func (c *Client) Put(ctx context.Context, keys []string, src io.Reader, size int64) error {
	if len(keys) == 0 {
		return cacheerr.New(cacheerr.InvalidInput, "put requires at least one key")
	}
	encoded := make([]string, len(keys))
	for i, k := range keys {
		encoded[i] = url.PathEscape(k)
	}
	u := c.BaseURL + "/entries/" + strings.Join(encoded, ",")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, io.NopCloser(src))
	if err != nil {
		return cacheerr.Wrap(cacheerr.InvalidInput, "build put request", err)
	}
	if size >= 0 {
		req.ContentLength = size
	} else {
		req.ContentLength = -1
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent:
		defer resp.Body.Close()
		_, _ = cachehttp.CopyBody(io.Discard, resp.Body)
		return nil
	default:
		return classifyStatus(resp)
	}
}

func classifyTransportError(err error) error {
	return cacheerr.Wrap(cacheerr.IO, "remote cache transport error", err)
}

func classifyStatus(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return cacheerr.New(cacheerr.Unauthorized, "remote cache: unauthorized")
	case http.StatusForbidden:
		return cacheerr.New(cacheerr.Forbidden, "remote cache: forbidden")
	case http.StatusGatewayTimeout:
		return cacheerr.New(cacheerr.Timeout, "remote cache: timeout")
	default:
		return cacheerr.New(cacheerr.IO, fmt.Sprintf("remote cache: remote-error(%d, %s)", resp.StatusCode, msg))
	}
}
