// Package authz declares the authorization contract checked on every
// cache-server request: a biscuit v2 token must satisfy a
// cache("<name>") fact and an operation("get"|"put") fact.
//
// The real biscuit-v2 grammar, public-key verification, and block
// attenuation are an external collaborator's concern; implementing the
// biscuit token format itself is out of scope here. This package ships
// the interface the rest of the server codes against,
// plus two concrete verifiers useful without that dependency:
// AllowAll for InMemory/dev caches, and StaticTokenVerifier as a test
// double for exercising the unauthorized/forbidden paths of
// internal/cacheserver.
package authz

import (
	"btdt/internal/cacheerr"
)

// Verifier checks that token authorizes operation ("get" or "put")
// against the named cache. A nil error means the request may proceed.
type Verifier interface {
	Verify(token []byte, cacheName, operation string) error
}

// AllowAll authorizes every request unconditionally. Intended for
// InMemory/dev cache configurations and for tests that are not
// exercising the authorization path itself.
type AllowAll struct{}

func (AllowAll) Verify([]byte, string, string) error { return nil }

// StaticTokenVerifier is a test double: it authorizes exactly the
// (token, cache, operation) tuples explicitly granted, and returns
// Unauthorized for an empty or unrecognized token, Forbidden for a
// recognized token attempting an ungranted cache/operation pair.
type StaticTokenVerifier struct {
	// Grants maps a token string to the set of "cache:operation"
	// pairs it is allowed to perform.
	Grants map[string]map[string]bool
}

// NewStaticTokenVerifier builds a StaticTokenVerifier with an empty
// grant table.
func NewStaticTokenVerifier() *StaticTokenVerifier {
	return &StaticTokenVerifier{Grants: make(map[string]map[string]bool)}
}

// Grant allows token to perform operation against cacheName.
func (v *StaticTokenVerifier) Grant(token, cacheName, operation string) {
	perms, ok := v.Grants[token]
	if !ok {
		perms = make(map[string]bool)
		v.Grants[token] = perms
	}
	perms[cacheName+":"+operation] = true
}

func (v *StaticTokenVerifier) Verify(token []byte, cacheName, operation string) error {
	if len(token) == 0 {
		return cacheerr.New(cacheerr.Unauthorized, "missing authorization token")
	}
	perms, ok := v.Grants[string(token)]
	if !ok {
		return cacheerr.New(cacheerr.Unauthorized, "unrecognized authorization token")
	}
	if !perms[cacheName+":"+operation] {
		return cacheerr.New(cacheerr.Forbidden, "token not authorized for "+operation+" on "+cacheName)
	}
	return nil
}
