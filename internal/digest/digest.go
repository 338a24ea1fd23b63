// Package digest computes the content hash that identifies a cache
// entry: a BLAKE3 256-bit cryptographic hash over the serialized
// directory stream. It is adapted from Portsy's internal/core/hash
// package: same
// buffered-copy hashing approach, same zeebo/blake3 dependency, reshaped
// into a streaming Hasher so the local cache can hash an encoded
// stream while it writes it to storage instead of hashing a second
// pass over the data.
package digest

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a Hash.
const Size = 32

// Hash is a fixed-size content hash, hex-encoded for on-disk paths and
// URLs.
type Hash [Size]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash (never a valid content
// hash, since blake3's digest of the empty stream is not all zero
// bytes; used as a "not computed" sentinel).
func (h Hash) IsZero() bool { return h == Hash{} }

// Parse decodes a hex string produced by Hash.String.
func Parse(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("digest: parse %q: %w", s, err)
	}
	if len(b) != Size {
		return h, fmt.Errorf("digest: parse %q: want %d bytes, got %d", s, Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Hasher streams bytes into a blake3 digest. The zero value is not
// usable; construct with New.
type Hasher struct {
	h hash.Hash
	n int64
}

// New returns a ready-to-use Hasher.
func New() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Write implements io.Writer so a Hasher can sit in an io.MultiWriter
// or io.TeeReader alongside the actual persistence sink.
func (hr *Hasher) Write(p []byte) (int, error) {
	n, err := hr.h.Write(p)
	hr.n += int64(n)
	return n, err
}

// BytesWritten returns the number of bytes hashed so far.
func (hr *Hasher) BytesWritten() int64 { return hr.n }

// Sum returns the Hash of everything written so far without
// invalidating the Hasher for further writes.
func (hr *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], hr.h.Sum(nil))
	return out
}

// BufSize is the streaming buffer size used throughout the cache for
// bounded-memory copying, matching the stream codec's default buffer
// size.
const BufSize = 64 << 10

// Reader hashes everything read from r in bounded memory, returning the
// digest and the total byte count. Used by callers that only need a
// digest (e.g. the btdt hash subcommand) rather than a streaming
// Hasher wired into a copy loop.
func Reader(r io.Reader) (Hash, int64, error) {
	hr := New()
	buf := make([]byte, BufSize)
	n, err := io.CopyBuffer(hr, r, buf)
	if err != nil {
		return Hash{}, n, fmt.Errorf("digest: hash reader: %w", err)
	}
	return hr.Sum(), n, nil
}
