// Package cachelog builds the single structured logger every btdt
// binary installs at startup. It mirrors the shape of
// calypr-git-drs/drslog: one *slog.Logger built once, handed explicitly
// to constructors rather than read from a hidden package global, with
// a text handler for interactive use and a JSON handler for machine
// consumption in CI.
package cachelog

import (
	"io"
	"log/slog"
	"os"
)

type Format string

const (
	Text Format = "text"
	JSON Format = "json"
)

// New builds a logger writing to w (os.Stderr in production, a buffer
// in tests) at the given level ("debug", "info", "warn", "error").
func New(w io.Writer, format Format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With("pid", os.Getpid())
}

// Discard is a logger that drops everything; used where a caller
// doesn't pass one explicitly (tests, library defaults).
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
