package cachehttp

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyBodyStreamsFullContent(t *testing.T) {
	src := strings.Repeat("x", 5*DefaultBufferSize+17)
	var dst bytes.Buffer

	n, err := CopyBody(&dst, strings.NewReader(src))
	require.NoError(t, err)
	require.EqualValues(t, len(src), n)
	require.Equal(t, src, dst.String())
}

func TestHeaderGetIsCaseInsensitive(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/octet-stream")

	require.Equal(t, "application/octet-stream", HeaderGet(h, "content-type"))
	require.Equal(t, "application/octet-stream", HeaderGet(h, "CONTENT-TYPE"))
}

func TestIsChunkedDetectsTransferEncoding(t *testing.T) {
	h := http.Header{}
	require.False(t, IsChunked(h))

	h.Set("Transfer-Encoding", "chunked")
	require.True(t, IsChunked(h))
}
