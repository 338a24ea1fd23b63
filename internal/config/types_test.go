package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDurationCombinations(t *testing.T) {
	cases := map[string]time.Duration{
		"1d":      24 * time.Hour,
		"48h":     48 * time.Hour,
		"7days":   7 * 24 * time.Hour,
		"1d 12h":  36 * time.Hour,
		"5min":    5 * time.Minute,
		"10min":   10 * time.Minute,
		"30s":     30 * time.Second,
	}
	for input, want := range cases {
		got, err := ParseDuration(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	_, err := ParseDuration("")
	require.Error(t, err)

	_, err = ParseDuration("nope")
	require.Error(t, err)

	_, err = ParseDuration("10xyz")
	require.Error(t, err)
}

func TestParseByteSizeBinaryPrefixes(t *testing.T) {
	cases := map[string]int64{
		"50GiB": 50 * (1 << 30),
		"100MB": 100 * (1 << 20),
		"1KiB":  1 << 10,
		"5B":    5,
		"2TiB":  2 * (1 << 40),
	}
	for input, want := range cases {
		got, err := ParseByteSize(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}
}

func TestParseByteSizeBareIntegerIsBytes(t *testing.T) {
	got, err := ParseByteSize("1024")
	require.NoError(t, err)
	require.EqualValues(t, 1024, got)
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1d 12h")))
	require.Equal(t, 36*time.Hour, d.Duration)
}

func TestByteSizeUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("50GiB")))
	require.EqualValues(t, 50*(1<<30), b)
}
