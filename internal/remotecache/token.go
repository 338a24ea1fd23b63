package remotecache

import (
	"os"
	"strings"

	"btdt/internal/cacheerr"
)

// ReadTokenFile reads a bearer token from path, stripping exactly one
// trailing newline. Internal newlines are left untouched: biscuit
// tokens are single-line base64-URL strings, but a naive TrimSpace
// would silently strip any further leading or trailing whitespace
// from a malformed token file instead of surfacing the problem.
func ReadTokenFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", cacheerr.WithPath(cacheerr.IO, "read auth token file", path, err)
	}
	s := string(raw)
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, nil
}
