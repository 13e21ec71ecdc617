package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	offlinecache "github.com/gigview/offline-cache"
)

const (
	// CompressionThreshold is the minimum payload size before compression is
	// considered. zstd overhead is not worth it for smaller payloads.
	CompressionThreshold = 2048

	// MaxPayloadSize is the maximum allowed uncompressed payload size.
	// Cached listings for a mobile client should never come near this.
	MaxPayloadSize = 10 * 1024 * 1024 // 10MB

	// MaxDecompressedSize is the hard cap during decompression to prevent
	// compression bombs.
	MaxDecompressedSize = 10 * 1024 * 1024 // 10MB
)

// Payload encodings stored in the envelope.
const (
	EncodingIdentity = ""
	EncodingZstd     = "zstd"
)

var (
	// ErrPayloadTooLarge is returned when payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrDecompressionBomb is returned when decompressed size exceeds limit.
	ErrDecompressionBomb = errors.New("decompressed payload exceeds maximum size")

	// ErrCorrupted is returned when payload digest verification fails.
	ErrCorrupted = errors.New("payload digest mismatch")
)

// Codec handles envelope payload encoding/decoding with optional compression.
// Encoder and decoder are goroutine-safe and can be reused.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewCodec creates a new codec with pooled zstd encoder/decoder.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Codec{
		encoder: enc,
		decoder: dec,
	}, nil
}

// Close releases encoder/decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// EncodePayload compresses the payload if beneficial and returns the encoded
// bytes with the encoding used. Also computes the digest of the original
// (uncompressed) payload for corruption detection on read.
func (c *Codec) EncodePayload(data []byte) (payload []byte, encoding string, digest offlinecache.Digest, err error) {
	if len(data) > MaxPayloadSize {
		return nil, EncodingIdentity, offlinecache.Digest{}, ErrPayloadTooLarge
	}

	digest = offlinecache.DigestBytes(data)

	if len(data) < CompressionThreshold {
		return data, EncodingIdentity, digest, nil
	}

	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()

	if enc == nil {
		return data, EncodingIdentity, digest, nil
	}

	compressed := enc.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return data, EncodingIdentity, digest, nil
	}

	return compressed, EncodingZstd, digest, nil
}

// DecodePayload decompresses the payload if needed and verifies its digest.
func (c *Codec) DecodePayload(payload []byte, encoding string, expectedDigest offlinecache.Digest, expectedSize uint64) ([]byte, error) {
	switch encoding {
	case EncodingIdentity:
		if !expectedDigest.IsZero() && offlinecache.DigestBytes(payload) != expectedDigest {
			return nil, ErrCorrupted
		}
		return payload, nil

	case EncodingZstd:
		if expectedSize > MaxDecompressedSize {
			return nil, ErrDecompressionBomb
		}

		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()

		if dec == nil {
			return nil, errors.New("decoder not initialized")
		}

		data, err := dec.DecodeAll(payload, make([]byte, 0, expectedSize))
		if err != nil {
			return nil, fmt.Errorf("decompressing payload: %w", err)
		}
		if uint64(len(data)) > MaxDecompressedSize {
			return nil, ErrDecompressionBomb
		}

		if !expectedDigest.IsZero() && offlinecache.DigestBytes(data) != expectedDigest {
			return nil, ErrCorrupted
		}
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported encoding: %q", encoding)
	}
}
