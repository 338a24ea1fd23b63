// Package cacheerr defines the error taxonomy shared by every cache
// component: storage backends, the local cache, the remote client, the
// server, and the orchestrator all return errors through this package
// so that exit codes (cmd/btdt) and HTTP statuses (internal/cacheserver)
// can be derived from a single Kind instead of string-matching.
package cacheerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way spec §7 does: by what happened,
// not by which package raised it.
type Kind int

const (
	// Unknown is the zero value; String reports it as "internal".
	Unknown Kind = iota
	NotFound
	Corrupt
	IO
	Protocol
	Unauthorized
	Forbidden
	Timeout
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not-found"
	case Corrupt:
		return "corrupt"
	case IO:
		return "io"
	case Protocol:
		return "protocol"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case Timeout:
		return "timeout"
	case InvalidInput:
		return "invalid-input"
	default:
		return "internal"
	}
}

// Error is the concrete error type every package in this module
// returns. Path is optional context (the key, file, or URL involved).
type Error struct {
	Kind  Kind
	Msg   string
	Path  string
	Cause error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Msg, e.Path, e.Cause)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare Error of the given kind.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Cause: cause}
}

// WithPath attaches path context for io errors, matching Portsy's
// fmt.Errorf("verb %q: %w", path, err) convention but keeping the path
// available to callers as structured data, not just a string.
func WithPath(k Kind, msg, path string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Path: path, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Unknown for errors
// this package didn't produce.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err (or anything it wraps) carries kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
