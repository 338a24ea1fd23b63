package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherMatchesReader(t *testing.T) {
	data := strings.Repeat("hello world ", 1000)

	hr := New()
	n, err := hr.Write([]byte(data))
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	want := hr.Sum()

	got, readN, err := Reader(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), readN)
	require.Equal(t, want, got)
}

func TestHashRoundTripsThroughString(t *testing.T) {
	h, _, err := Reader(strings.NewReader("content"))
	require.NoError(t, err)
	require.False(t, h.IsZero())

	parsed, err := Parse(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse("not-hex")
	require.Error(t, err)

	_, err = Parse("abcd")
	require.Error(t, err)
}

func TestDifferentContentDifferentHash(t *testing.T) {
	a, _, err := Reader(strings.NewReader("a"))
	require.NoError(t, err)
	b, _, err := Reader(strings.NewReader("b"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
