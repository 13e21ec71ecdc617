// Package offlinecache provides a local cache and offline write-replay layer
// for mobile clients that otherwise talk to a remote API. It combines a
// TTL-aware key-value cache with stale-read fallback, a connectivity monitor,
// and a durable queue of pending mutations replayed when connectivity returns.
package offlinecache

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// DigestSize is the size of a BLAKE3 digest in bytes (256 bits).
const DigestSize = 32

// Digest is a BLAKE3 256-bit digest of a cache payload. It is stored alongside
// each entry so corruption in the durable store is detected on read rather
// than handed to the caller.
type Digest [DigestSize]byte

// DigestBytes computes the digest of the given payload.
func DigestBytes(data []byte) Digest {
	return blake3.Sum256(data)
}

// String returns the hex-encoded representation of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ShortString returns a shortened hex representation for display.
func (d Digest) ShortString() string {
	return hex.EncodeToString(d[:8])
}

// IsZero returns true if the digest is all zeros (uninitialized).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) != DigestSize*2 {
		return fmt.Errorf("invalid digest length: expected %d hex chars, got %d", DigestSize*2, len(text))
	}
	_, err := hex.Decode(d[:], text)
	return err
}
