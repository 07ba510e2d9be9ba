package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	filecache "github.com/wolfeidau/file-cache"
)

var (
	// MagicBytes is the 4-byte prefix of every entry file.
	MagicBytes = []byte("FCE1")

	// ErrInvalidMagic is returned when entry data doesn't start with the expected magic bytes.
	ErrInvalidMagic = errors.New("invalid magic bytes: expected FCE1")

	// ErrCorrupted is returned when the payload checksum does not match.
	ErrCorrupted = errors.New("entry checksum mismatch")

	// ErrValueTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrValueTooLarge = errors.New("entry payload exceeds maximum size")
)

const (
	// CompressionThreshold is the minimum payload size before compression is considered.
	CompressionThreshold = 2048

	// MaxPayloadSize is the maximum allowed uncompressed payload size.
	MaxPayloadSize = 64 * 1024 * 1024 // 64MB

	// frame layout: MAGIC (4) | FLAGS (1) | SIZE (uint32 big-endian) | BLAKE3 (32) | BODY
	headerSize = 4 + 1 + 4 + filecache.ChecksumSize

	flagZstd byte = 1 << 0
)

// FrameCodec wraps encoded values in the entry file frame, compressing
// large payloads and verifying checksums on the way back.
// Encoder and decoder are goroutine-safe and can be reused.
type FrameCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewFrameCodec creates a new codec with pooled zstd encoder/decoder.
func NewFrameCodec() (*FrameCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &FrameCodec{
		encoder: enc,
		decoder: dec,
	}, nil
}

// Close releases encoder/decoder resources.
func (c *FrameCodec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		_ = c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode frames payload, compressing it when that saves space.
func (c *FrameCodec) Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrValueTooLarge
	}

	sum := filecache.ChecksumBytes(payload)
	body := payload
	var flags byte

	if len(payload) >= CompressionThreshold {
		c.mu.RLock()
		enc := c.encoder
		c.mu.RUnlock()

		if enc != nil {
			if compressed := enc.EncodeAll(payload, nil); len(compressed) < len(payload) {
				body = compressed
				flags |= flagZstd
			}
		}
	}

	buf := make([]byte, 0, headerSize+len(body))
	buf = append(buf, MagicBytes...)
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload))) //nolint:gosec // bounded by MaxPayloadSize
	buf = append(buf, sum[:]...)
	buf = append(buf, body...)
	return buf, nil
}

// Decode unwraps a frame and returns the verified payload.
func (c *FrameCodec) Decode(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("reading header: short frame of %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], MagicBytes) {
		return nil, ErrInvalidMagic
	}

	flags := data[4]
	size := binary.BigEndian.Uint32(data[5:9])
	var sum filecache.Checksum
	copy(sum[:], data[9:headerSize])
	body := data[headerSize:]

	if size > MaxPayloadSize {
		return nil, ErrValueTooLarge
	}

	payload := body
	switch flags {
	case 0:
	case flagZstd:
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()

		if dec == nil {
			return nil, errors.New("decoder not initialized")
		}

		var err error
		payload, err = dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("decompressing payload: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported frame flags: %#x", flags)
	}

	if uint32(len(payload)) != size { //nolint:gosec // payload is bounded by MaxPayloadSize
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrCorrupted, size, len(payload))
	}
	if got := filecache.ChecksumBytes(payload); got != sum {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrCorrupted, sum.ShortString(), got.ShortString())
	}

	return payload, nil
}
