// Package cachehttp holds the pieces shared by internal/remotecache
// (client) and internal/cacheserver (server): a bounded-buffer body
// copier and case-insensitive header helpers. Both sides of the wire
// must agree byte-for-byte on framing, since the stream codec's
// decode validates as it reads.
package cachehttp

import (
	"io"
	"net/http"
	"net/textproto"
)

// DefaultBufferSize matches internal/codec's streaming buffer: the
// HTTP path must not buffer more of a body in memory than the local
// path does.
const DefaultBufferSize = 64 << 10

// CopyBody streams src to dst through a fixed-size buffer, never
// growing it regardless of how large the body turns out to be. The
// server uses it to stream an entry into a GET response and to drain
// a rejected PUT body; the client uses it to drain a PUT response.
func CopyBody(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, DefaultBufferSize)
	return io.CopyBuffer(dst, src, buf)
}

// HeaderGet looks up key in h case-insensitively, canonicalizing the
// lookup key the way HTTP/1.1 requires (net/http's own http.Header is
// already textproto.MIMEHeader under the hood, but callers sometimes
// build a Header by hand before a round trip through the wire).
func HeaderGet(h http.Header, key string) string {
	return h.Get(textproto.CanonicalMIMEHeaderKey(key))
}

// IsChunked reports whether h declares chunked Transfer-Encoding.
func IsChunked(h http.Header) bool {
	return HeaderGet(h, "Transfer-Encoding") == "chunked"
}
