// Package config loads the server's TOML configuration file, applies
// BTDT_-prefixed environment overrides, and parses the duration/size
// grammars used throughout the cleanup policy.
//
// Grounded on the config loading in cmd/portsy/main.go (godotenv.Overload
// followed by reading a handful of named settings)
// generalized to a full TOML document via github.com/BurntSushi/toml,
// which appears in the pack's dependency graph through
// calypr-git-drs/go.mod.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration wraps time.Duration with a TOML/env-friendly grammar:
// combinations like "1d", "48h", "7days", "1d 12h", "5min".
// encoding.TextUnmarshaler lets BurntSushi/toml and our own env
// override parser share one implementation.
type Duration struct {
	time.Duration
}

var durationUnits = []struct {
	suffixes []string
	unit     time.Duration
}{
	{[]string{"d", "day", "days"}, 24 * time.Hour},
	{[]string{"h", "hour", "hours"}, time.Hour},
	{[]string{"min", "m", "minute", "minutes"}, time.Minute},
	{[]string{"s", "sec", "second", "seconds"}, time.Second},
}

// ParseDuration parses the grammar described above. Components are
// space-separated; each component is a non-negative integer
// immediately followed by a unit suffix, and everything after the
// digits must equal one of the known suffixes exactly ("min" and "m"
// are both minutes; "5mins" is rejected).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config: empty duration")
	}
	var total time.Duration
	for _, part := range strings.Fields(s) {
		d, err := parseDurationComponent(part)
		if err != nil {
			return 0, fmt.Errorf("config: duration %q: %w", s, err)
		}
		total += d
	}
	return total, nil
}

func parseDurationComponent(part string) (time.Duration, error) {
	i := 0
	for i < len(part) && (part[i] >= '0' && part[i] <= '9') {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("missing numeric value in %q", part)
	}
	n, err := strconv.ParseInt(part[:i], 10, 64)
	if err != nil {
		return 0, err
	}
	suffix := part[i:]
	if suffix == "" {
		return 0, fmt.Errorf("missing unit suffix in %q", part)
	}

	var best time.Duration
	var bestLen int = -1
	for _, group := range durationUnits {
		for _, s := range group.suffixes {
			if s == suffix && len(s) > bestLen {
				best = group.unit
				bestLen = len(s)
			}
		}
	}
	if bestLen < 0 {
		return 0, fmt.Errorf("unrecognized unit suffix %q", suffix)
	}
	return time.Duration(n) * best, nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ByteSize wraps an int64 byte count with a unit grammar: B, KB/KiB,
// MB/MiB, GB/GiB, TB/TiB, binary prefixes using powers of 1024. KB and
// KiB parse identically; decimal and binary prefixes are not
// distinguished here.
type ByteSize int64

var byteUnits = []struct {
	suffix string
	factor int64
}{
	{"TiB", 1 << 40}, {"TB", 1 << 40},
	{"GiB", 1 << 30}, {"GB", 1 << 30},
	{"MiB", 1 << 20}, {"MB", 1 << 20},
	{"KiB", 1 << 10}, {"KB", 1 << 10},
	{"B", 1},
}

// ParseByteSize parses a string like "50GiB" or "100MB".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config: empty byte size")
	}
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			numPart := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("config: byte size %q: %w", s, err)
			}
			return int64(n * float64(u.factor)), nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: byte size %q: no recognized unit suffix and not a bare integer", s)
	}
	return n, nil
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(b), 10)), nil
}
